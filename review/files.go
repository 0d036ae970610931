package review

import (
	"path"
	"strings"
)

// skipNames are lock and checksum files never worth reviewing.
var skipNames = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"Pipfile.lock":      true,
	"poetry.lock":       true,
	"uv.lock":           true,
	"composer.lock":     true,
	"Gemfile.lock":      true,
	"Cargo.lock":        true,
	"go.sum":            true,
}

// skipSuffixes cover generated, minified and binary files.
var skipSuffixes = []string{
	".lock", ".min.js", ".min.css", ".map", ".snap", ".svg",
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".webp", ".pdf",
	".woff", ".woff2", ".ttf", ".eot",
	".pyc", ".pyo", ".so", ".dll", ".dylib", ".exe", ".zip",
	".pb.go", "_gen.go", ".gen.go",
}

// ShouldSkipFile reports whether a changed file is generated, vendored or
// binary and stays out of the review.
func ShouldSkipFile(p string) bool {
	if skipNames[path.Base(p)] {
		return true
	}
	if strings.HasPrefix(p, "vendor/") || strings.Contains(p, "/node_modules/") || strings.HasPrefix(p, "node_modules/") {
		return true
	}
	lower := strings.ToLower(p)
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// DetectLanguage returns the programming language based on file extension.
func DetectLanguage(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".py":
		return "python"
	case ".rb":
		return "ruby"
	case ".java":
		return "java"
	case ".kt", ".kts":
		return "kotlin"
	case ".swift":
		return "swift"
	case ".rs":
		return "rust"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".cxx", ".hpp", ".hxx":
		return "cpp"
	case ".cs":
		return "csharp"
	case ".php":
		return "php"
	case ".scala":
		return "scala"
	case ".ex", ".exs":
		return "elixir"
	default:
		return ""
	}
}

// IsTestFile reports whether p follows a test naming convention of its language.
func IsTestFile(p string) bool {
	base := path.Base(p)
	name := strings.TrimSuffix(base, path.Ext(base))
	switch DetectLanguage(p) {
	case "go":
		return strings.HasSuffix(name, "_test")
	case "typescript", "javascript":
		return strings.HasSuffix(name, ".test") || strings.HasSuffix(name, ".spec") || strings.Contains(p, "__tests__/")
	case "python":
		return strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test")
	case "ruby":
		return strings.HasSuffix(name, "_spec") || strings.HasSuffix(name, "_test")
	case "java", "kotlin":
		return strings.HasSuffix(name, "Test")
	default:
		return false
	}
}

// TestFileFor returns the conventional test file of a source file, or "" when
// the file is a test itself or its language has no known convention.
// The agent is pointed at it so it can read it with the read_file tool.
func TestFileFor(p string) string {
	if IsTestFile(p) {
		return ""
	}
	dir := path.Dir(p)
	base := path.Base(p)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)

	switch DetectLanguage(p) {
	case "go":
		return path.Join(dir, name+"_test.go")
	case "typescript", "javascript":
		return path.Join(dir, name+".test"+ext)
	case "python":
		return path.Join(dir, "test_"+name+ext)
	case "ruby":
		return path.Join(dir, name+"_spec.rb")
	case "java", "kotlin":
		testPath := strings.Replace(p, "/main/", "/test/", 1)
		return path.Join(path.Dir(testPath), name+"Test"+ext)
	default:
		return ""
	}
}
