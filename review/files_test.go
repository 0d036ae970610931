package review

import (
	"testing"
)

func TestShouldSkipFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"package-lock.json", true},
		{"web/yarn.lock", true},
		{"go.sum", true},
		{"assets/logo.PNG", true},
		{"static/app.min.js", true},
		{"api/v1/service.pb.go", true},
		{"vendor/github.com/x/y.go", true},
		{"web/node_modules/react/index.js", true},
		{"main.go", false},
		{"go.mod", false},
		{"src/lockfile.ts", false},
		{"docs/README.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ShouldSkipFile(tt.path); got != tt.want {
				t.Errorf("ShouldSkipFile(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"main.go", "go"},
		{"internal/pkg/handler.go", "go"},
		{"src/app.ts", "typescript"},
		{"components/Button.tsx", "typescript"},
		{"index.js", "javascript"},
		{"config.mjs", "javascript"},
		{"main.py", "python"},
		{"handler.rb", "ruby"},
		{"Main.java", "java"},
		{"lib.rs", "rust"},
		{"utils.cpp", "cpp"},
		{"lib.ex", "elixir"},
		{"README.md", ""},
		{"Makefile", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := DetectLanguage(tt.path)
			if got != tt.expected {
				t.Errorf("DetectLanguage(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestTestFileFor(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"handler.go", "handler_test.go"},
		{"internal/api/handler.go", "internal/api/handler_test.go"},
		{"internal/api/handler_test.go", ""},
		{"src/utils.ts", "src/utils.test.ts"},
		{"src/Button.tsx", "src/Button.test.tsx"},
		{"src/utils.spec.ts", ""},
		{"app/models.py", "app/test_models.py"},
		{"tests/test_models.py", ""},
		{"lib/user.rb", "lib/user_spec.rb"},
		{"src/main/java/com/acme/User.java", "src/test/java/com/acme/UserTest.java"},
		{"src/lib.rs", ""},
		{"README.md", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := TestFileFor(tt.path)
			if got != tt.expected {
				t.Errorf("TestFileFor(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}
