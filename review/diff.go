package review

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Side is the version of a file a line belongs to, as GitHub names it.
type Side string

const (
	// SideLeft is the old version of the file (removed lines).
	SideLeft Side = "LEFT"
	// SideRight is the new version of the file (added and context lines).
	SideRight Side = "RIGHT"
)

// ParseSide normalizes a side string. Empty means RIGHT.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "RIGHT", "R", "NEW":
		return SideRight, true
	case "LEFT", "L", "OLD":
		return SideLeft, true
	default:
		return "", false
	}
}

// Anchor is a commentable position in a pull request diff.
type Anchor struct {
	Path string
	Side Side
	Line int
}

func (a Anchor) String() string {
	return fmt.Sprintf("%s:%s:%d", a.Path, a.Side, a.Line)
}

// AnchorSet is the set of positions a review comment may be attached to.
type AnchorSet map[Anchor]struct{}

// Contains reports whether a is a line of some hunk.
func (s AnchorSet) Contains(a Anchor) bool {
	_, ok := s[a]
	return ok
}

// LineKind classifies a line inside a hunk.
type LineKind int

const (
	LineContext LineKind = iota
	LineAdded
	LineRemoved
)

// DiffLine is one line of a hunk with its position on both sides.
// OldLine is 0 for added lines and NewLine is 0 for removed lines.
type DiffLine struct {
	Kind    LineKind
	Text    string
	OldLine int
	NewLine int
}

// Anchor returns where a comment on this line attaches: removed lines on the
// LEFT at their old number, everything else on the RIGHT at the new number.
func (l DiffLine) Anchor(path string) Anchor {
	if l.Kind == LineRemoved {
		return Anchor{Path: path, Side: SideLeft, Line: l.OldLine}
	}
	return Anchor{Path: path, Side: SideRight, Line: l.NewLine}
}

// Hunk is one "@@" section of a patch.
type Hunk struct {
	Header   string
	OldStart int
	NewStart int
	Lines    []DiffLine
}

// FileDiff is the parsed patch of one changed file.
type FileDiff struct {
	Path      string
	Status    string
	Additions int
	Deletions int
	Hunks     []Hunk
}

// hunkHeaderRegex matches unified diff hunk headers like "@@ -10,5 +15,7 @@"
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParsePatch parses the patch GitHub returns for a single file (hunks only,
// no "diff --git" or "+++" headers). Lines outside a hunk are ignored.
func ParsePatch(path, patch string) *FileDiff {
	fd := &FileDiff{Path: path}
	if patch == "" {
		return fd
	}

	var hunk *Hunk
	var oldLine, newLine int

	lines := strings.Split(strings.TrimSuffix(patch, "\n"), "\n")
	for _, line := range lines {
		if matches := hunkHeaderRegex.FindStringSubmatch(line); matches != nil {
			oldStart, _ := strconv.Atoi(matches[1])
			newStart, _ := strconv.Atoi(matches[3])
			fd.Hunks = append(fd.Hunks, Hunk{Header: line, OldStart: oldStart, NewStart: newStart})
			hunk = &fd.Hunks[len(fd.Hunks)-1]
			oldLine, newLine = oldStart, newStart
			continue
		}

		if hunk == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"):
			hunk.Lines = append(hunk.Lines, DiffLine{Kind: LineAdded, Text: line[1:], NewLine: newLine})
			newLine++
			fd.Additions++
		case strings.HasPrefix(line, "-"):
			hunk.Lines = append(hunk.Lines, DiffLine{Kind: LineRemoved, Text: line[1:], OldLine: oldLine})
			oldLine++
			fd.Deletions++
		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file"
		default:
			// Context line. Some tools strip the leading space of blank lines.
			text := strings.TrimPrefix(line, " ")
			hunk.Lines = append(hunk.Lines, DiffLine{Kind: LineContext, Text: text, OldLine: oldLine, NewLine: newLine})
			oldLine++
			newLine++
		}
	}

	return fd
}

// Anchors returns every commentable position of the file.
func (fd *FileDiff) Anchors() []Anchor {
	var out []Anchor
	for _, h := range fd.Hunks {
		for _, l := range h.Lines {
			out = append(out, l.Anchor(fd.Path))
		}
	}
	return out
}

// BuildAnchors collects the anchors of all files.
func BuildAnchors(files []FileDiff) AnchorSet {
	set := make(AnchorSet)
	for i := range files {
		for _, a := range files[i].Anchors() {
			set[a] = struct{}{}
		}
	}
	return set
}

// Annotate renders the file's hunks with the side and line number to use for
// each line, e.g. "R    42 | +code" or "L    17 | -code".
func (fd *FileDiff) Annotate() string {
	var b strings.Builder
	for _, h := range fd.Hunks {
		b.WriteString(h.Header)
		b.WriteString("\n")
		for _, l := range h.Lines {
			a := l.Anchor(fd.Path)
			prefix := " "
			switch l.Kind {
			case LineAdded:
				prefix = "+"
			case LineRemoved:
				prefix = "-"
			}
			fmt.Fprintf(&b, "%s %5d | %s%s\n", a.Side[:1], a.Line, prefix, l.Text)
		}
	}
	return b.String()
}
