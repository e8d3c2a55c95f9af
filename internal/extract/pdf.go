package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pdfExtractor struct {
	password string
}

func (p pdfExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	ra := bytes.NewReader(data)
	size := int64(len(data))

	r, err := pdf.NewReader(ra, size)
	if err != nil && p.password == "" && (errors.Is(err, pdf.ErrInvalidPassword) || encrypted(data)) {
		// The reader rejects unsupported encryption (AES-256) before it
		// ever asks for a password.
		return "", NewError(KindPdfEncryptedNoPassword, Prefix+"PDF processing error", err,
			"Failed to extract text from PDF: PDF is encrypted but no password provided")
	}
	if errors.Is(err, pdf.ErrInvalidPassword) {
		tried := false
		r, err = pdf.NewReaderEncrypted(ra, size, func() string {
			if tried {
				return ""
			}
			tried = true
			return p.password
		})
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return "", NewError(KindPdfIncorrectPassword, Prefix+"PDF processing error", err,
				"Failed to extract text from PDF: Incorrect PDF password")
		}
	}
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			b.WriteString("\n")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func encrypted(data []byte) bool {
	return bytes.Contains(data, []byte("/Encrypt"))
}
