package extract

import (
	"context"
	"strings"
	"unicode/utf8"
)

func extractText(_ context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errEncoding(invalidOffset(data))
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return "", errEmpty()
	}
	if strings.HasPrefix(content, "b'") || strings.HasPrefix(content, `b"`) {
		return "", errBinary()
	}
	return content, nil
}

func invalidOffset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(data)
}

// cellEscaper makes a cell value safe for tab-delimited output. Backslashes
// are escaped in the same pass, so escapes it introduces are never re-escaped.
var cellEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\r\n", `\n`,
	"\r", `\n`,
	"\n", `\n`,
)

func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}

func escapeSheetTitle(s string) string {
	return strings.NewReplacer("\n", " ", "\t", " ", "\r", " ").Replace(s)
}
