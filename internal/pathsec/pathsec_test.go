package pathsec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"plain", "report.pdf", "report.pdf", nil},
		{"unix traversal", "../../etc/passwd", "etcpasswd", nil},
		{"windows traversal", `..\..\boot.ini`, "boot.ini", nil},
		{"control chars", "re\x00po\x1frt\x7f.txt", "report.txt", nil},
		{"leading dots and spaces", "  ..hidden.md  ", "hidden.md", nil},
		{"trailing dots", "notes.txt...", "notes.txt", nil},
		{"blank", "   ", "", ErrEmptyName},
		{"only separators", "/\\..//", "", ErrEmptyName},
		{"only dots", "....", "", ErrEmptyName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeFilename(tt.in, dir)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SanitizeFilename(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeFilename(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename_SymlinkOutside(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := SanitizeFilename("escape", dir); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("error = %v, want ErrUnsafePath", err)
	}
}

func TestValidatePath_Inside(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, raw := range []string{"a.txt", "sub/b.txt", `sub\c.txt`, "sub/../a.txt", "  a.txt  "} {
		got, ok := ValidatePath(raw, dir)
		if !ok {
			t.Errorf("ValidatePath(%q) rejected, want accepted", raw)
			continue
		}
		base, _ := filepath.EvalSymlinks(dir)
		if !strings.HasPrefix(got, base) {
			t.Errorf("ValidatePath(%q) = %q, outside %q", raw, got, base)
		}
	}
}

func TestValidatePath_Rejects(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	inputs := []string{
		"",
		"   ",
		"../secret.txt",
		"../../etc/passwd",
		`..\secret.txt`,
		`sub\..\..\secret.txt`,
		`sub\..`,
		"/etc/passwd",
		filepath.Join(outside, "x.txt"),
	}
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err == nil {
		inputs = append(inputs, "link/x.txt", "link")
	}

	for _, raw := range inputs {
		if got, ok := ValidatePath(raw, dir); ok {
			t.Errorf("ValidatePath(%q) = %q, want rejection", raw, got)
		}
	}
}

func TestValidatePath_NeverEscapes(t *testing.T) {
	dir := t.TempDir()
	base, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}

	parts := []string{"..", "a", `\`, "/", ".", "b.txt", "..."}
	// Exhaustive over short combinations.
	var walk func(prefix string, depth int)
	walk = func(prefix string, depth int) {
		if got, ok := ValidatePath(prefix, dir); ok {
			rel, err := filepath.Rel(base, got)
			if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
				t.Errorf("ValidatePath(%q) = %q escapes %q", prefix, got, base)
			}
		}
		if depth == 0 {
			return
		}
		for _, p := range parts {
			walk(prefix+p, depth-1)
		}
	}
	walk("", 4)
}
