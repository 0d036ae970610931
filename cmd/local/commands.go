package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/louroai/louro/config"
	"github.com/louroai/louro/feedback"
	"github.com/louroai/louro/review"
	"github.com/louroai/louro/storage/postgres"
)

var (
	reviewInstallation int64
	reviewPost         bool
	classifyThread     string
	migrateDSN         string
)

var reviewCmd = &cobra.Command{
	Use:   "review <owner/repo> <number>",
	Short: "Review a pull request and print the findings",
	Long: `Review a pull request without knowledge or repository status checks.

Findings are printed. With --post the review is also published to GitHub.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid pull request number %q", args[1])
		}
		settings, logger, err := loadSettings()
		if err != nil {
			return err
		}
		gh, llm, err := newClients(settings, logger)
		if err != nil {
			return err
		}

		assembler := review.NewAssembler(gh, config.NewLoader(gh), nil, nil,
			review.AssemblerOptions{DefaultLanguage: settings.DefaultLanguage}, logger)
		svc := review.NewService(assembler, review.NewGenerator(llm, gh, gh, nil, settings.ReviewModel, logger), nil, logger)

		ctx := cmd.Context()
		rc, res, err := svc.Review(ctx, review.PullRequestRef{
			InstallationID: reviewInstallation,
			Repo:           args[0],
			Number:         number,
		})
		if err != nil {
			return err
		}
		if res == nil {
			fmt.Println("No reviewable files.")
			return nil
		}

		fmt.Printf("%s\n\n", res.Summary)
		for _, f := range res.Findings {
			fmt.Printf("%s:%d (%s) %s\n", f.Path, f.Line, f.Side, review.RenderBody(f, rc.Language))
		}
		fmt.Printf("\n%d findings, %d dropped, %d input tokens\n", len(res.Findings), res.Dropped, res.Usage.InputTokens)

		if reviewPost {
			return svc.Post(ctx, rc, res)
		}
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <reply>",
	Short: "Classify a reply to a review comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, logger, err := loadSettings()
		if err != nil {
			return err
		}
		_, llm, err := newClients(settings, logger)
		if err != nil {
			return err
		}

		classifier := feedback.NewClassifier(llm, settings.ClassifierModel, logger)
		c := classifier.Classify(cmd.Context(), classifyThread, args[0])
		fmt.Printf("label: %s\nconfidence: %.2f\ncorrection: %t\n", c.Label, c.Confidence, c.IsCorrection())

		if c.IsCorrection() {
			rule, err := classifier.Extract(cmd.Context(), classifyThread, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("rule: %s\n", rule)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if migrateDSN == "" {
			return fmt.Errorf("DATABASE_URL or --dsn is required")
		}
		pg, err := postgres.NewFromDSN(cmd.Context(), migrateDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	reviewCmd.Flags().Int64Var(&reviewInstallation, "installation", 0, "GitHub App installation id (required)")
	reviewCmd.Flags().BoolVar(&reviewPost, "post", false, "publish the review to GitHub")
	_ = reviewCmd.MarkFlagRequired("installation")

	classifyCmd.Flags().StringVar(&classifyThread, "thread", "", "thread context preceding the reply")

	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
}
