// Package pathsec guards every filesystem path that is derived from user
// input before it is written to, moved, or deleted.
package pathsec

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyName is returned when a filename is blank before or after cleaning.
	ErrEmptyName = errors.New("filename cannot be empty")
	// ErrUnsafePath is returned when a path would resolve outside its base directory.
	ErrUnsafePath = errors.New("unsafe filename detected")
)

// SanitizeFilename cleans an uploaded filename so it can only name a file
// directly inside inputDir. Separators, ".." sequences, control characters
// and leading/trailing whitespace and dots are removed.
func SanitizeFilename(name, inputDir string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrEmptyName
	}

	clean := strings.ReplaceAll(name, "/", "")
	clean = strings.ReplaceAll(clean, `\`, "")
	clean = strings.ReplaceAll(clean, "..", "")
	clean = strings.Map(func(r rune) rune {
		if r < 32 || r == 0x7f {
			return -1
		}
		return r
	}, clean)
	clean = strings.Trim(strings.TrimSpace(clean), ".")

	if clean == "" {
		return "", fmt.Errorf("%w: nothing left after cleaning %q", ErrEmptyName, name)
	}

	base, err := resolve(inputDir)
	if err != nil {
		return "", fmt.Errorf("%w: resolving input dir: %v", ErrUnsafePath, err)
	}
	candidate, err := resolve(filepath.Join(inputDir, clean))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if !within(candidate, base) {
		return "", ErrUnsafePath
	}
	return clean, nil
}

// ValidatePath resolves raw relative to baseDir and returns the resolved
// path only if it stays inside baseDir. Any problem yields ok=false; callers
// skip the operation rather than fail.
func ValidatePath(raw, baseDir string) (string, bool) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return "", false
	}

	if strings.Contains(clean, "..") {
		if strings.Contains(clean, `\..\`) ||
			strings.HasPrefix(clean, `..\`) ||
			strings.HasSuffix(clean, `\..`) {
			return "", false
		}
	}

	normalized := strings.ReplaceAll(clean, `\`, "/")

	var joined string
	if filepath.IsAbs(normalized) {
		joined = normalized
	} else {
		joined = filepath.Join(baseDir, normalized)
	}

	candidate, err := resolve(joined)
	if err != nil {
		slog.Warn("invalid file path detected", "path", raw, "error", err)
		return "", false
	}
	base, err := resolve(baseDir)
	if err != nil {
		slog.Warn("invalid base directory", "path", baseDir, "error", err)
		return "", false
	}
	if !within(candidate, base) {
		return "", false
	}
	return candidate, true
}

// resolve returns an absolute, symlink-free form of p. Components that do not
// exist yet are appended lexically to the deepest existing ancestor.
func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	existing := abs
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, rest...)...), nil
}

func within(candidate, base string) bool {
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
