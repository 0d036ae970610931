package review

import (
	"strings"
	"testing"
)

func TestParsePatchAnchors(t *testing.T) {
	tests := []struct {
		name  string
		patch string
		right []int
		left  []int
	}{
		{
			name: "simple addition",
			patch: `@@ -10,3 +10,5 @@ func main() {
 	fmt.Println("existing")
+	fmt.Println("new line 1")
+	fmt.Println("new line 2")
 	fmt.Println("also existing")
 }`,
			right: []int{10, 11, 12, 13, 14},
		},
		{
			name: "deletion only",
			patch: `@@ -10,4 +10,2 @@ func main() {
 	fmt.Println("keep")
-	fmt.Println("remove 1")
-	fmt.Println("remove 2")
 	fmt.Println("also keep")`,
			right: []int{10, 11},
			left:  []int{11, 12},
		},
		{
			name: "multiple hunks",
			patch: `@@ -5,3 +5,4 @@ package main
 import "fmt"
+import "os"

 func main() {
@@ -20,2 +21,3 @@ func main() {
 	fmt.Println("end")
+	os.Exit(0)
 }`,
			right: []int{5, 6, 7, 8, 21, 22, 23},
		},
		{
			name: "replacement",
			patch: `@@ -1,3 +1,3 @@
 package foo
-var x = 1
+var x = 2
 var y = 3`,
			right: []int{1, 2, 3},
			left:  []int{2},
		},
		{
			name: "no newline marker",
			patch: `@@ -1,1 +1,1 @@
-old
\ No newline at end of file
+new
\ No newline at end of file
`,
			right: []int{1},
			left:  []int{1},
		},
		{
			name:  "empty patch",
			patch: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := ParsePatch("main.go", tt.patch)
			set := BuildAnchors([]FileDiff{*fd})

			if len(set) != len(tt.right)+len(tt.left) {
				t.Errorf("got %d anchors, want %d", len(set), len(tt.right)+len(tt.left))
			}
			for _, line := range tt.right {
				if !set.Contains(Anchor{Path: "main.go", Side: SideRight, Line: line}) {
					t.Errorf("expected RIGHT line %d to be an anchor", line)
				}
			}
			for _, line := range tt.left {
				if !set.Contains(Anchor{Path: "main.go", Side: SideLeft, Line: line}) {
					t.Errorf("expected LEFT line %d to be an anchor", line)
				}
			}
		})
	}
}

func TestParsePatchCounts(t *testing.T) {
	fd := ParsePatch("a.go", "@@ -1,2 +1,3 @@\n a\n-b\n+c\n+d\n")
	if fd.Additions != 2 || fd.Deletions != 1 {
		t.Errorf("got +%d/-%d, want +2/-1", fd.Additions, fd.Deletions)
	}
	if len(fd.Hunks) != 1 || len(fd.Hunks[0].Lines) != 4 {
		t.Fatalf("unexpected hunks: %+v", fd.Hunks)
	}
	if fd.Hunks[0].OldStart != 1 || fd.Hunks[0].NewStart != 1 {
		t.Errorf("unexpected hunk starts: %+v", fd.Hunks[0])
	}
}

func TestAnnotate(t *testing.T) {
	fd := ParsePatch("main.go", `@@ -10,3 +10,3 @@ func main() {
 	keep()
-	old()
+	new()
 	done()`)

	got := fd.Annotate()
	want := []string{
		"@@ -10,3 +10,3 @@ func main() {",
		"R    10 |  \tkeep()",
		"L    11 | -\told()",
		"R    11 | +\tnew()",
		"R    12 |  \tdone()",
	}
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"", SideRight, true},
		{"right", SideRight, true},
		{"RIGHT", SideRight, true},
		{"left", SideLeft, true},
		{"L", SideLeft, true},
		{"middle", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseSide(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseSide(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
