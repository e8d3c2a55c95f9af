package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxMainPart = "word/document.xml"

// extractDocx walks the document body in order so tables keep their
// position relative to the surrounding paragraphs.
func extractDocx(_ context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening docx archive: %w", err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxMainPart {
			part = f
			break
		}
	}
	if part == nil {
		return "", fmt.Errorf("docx archive has no %s", docxMainPart)
	}

	rc, err := part.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", docxMainPart, err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	if err := seekElement(dec, "body"); err != nil {
		return "", err
	}

	var parts []string
	inTable := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("reading docx body: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "p":
				text, err := readParagraph(dec)
				if err != nil {
					return "", err
				}
				if inTable {
					parts = append(parts, "")
					inTable = false
				}
				parts = append(parts, text)
			case "tbl":
				rows, err := readTable(dec)
				if err != nil {
					return "", err
				}
				if len(parts) > 0 && !inTable {
					parts = append(parts, "")
				}
				inTable = true
				for _, row := range rows {
					cells := make([]string, len(row))
					hasContent := false
					for i, c := range row {
						cells[i] = escapeCell(c)
						if cells[i] != "" {
							hasContent = true
						}
					}
					if hasContent {
						parts = append(parts, strings.Join(cells, "\t"))
					}
				}
			default:
				if err := dec.Skip(); err != nil {
					return "", fmt.Errorf("skipping %s: %w", el.Name.Local, err)
				}
			}
		case xml.EndElement:
			if el.Name.Local == "body" {
				return strings.Join(parts, "\n"), nil
			}
		}
	}
}

func seekElement(dec *xml.Decoder, local string) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("docx document has no <%s>", local)
		}
		if err != nil {
			return fmt.Errorf("reading docx: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == local {
			return nil
		}
	}
}

// readParagraph consumes tokens up to the end of the current <w:p> and
// returns its visible text.
func readParagraph(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	depth := 1
	inText := false
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("reading paragraph: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			depth--
			if el.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(el)
			}
		}
	}
	return b.String(), nil
}

// readTable consumes tokens up to the end of the current <w:tbl>. Each cell's
// text is its direct paragraphs joined by newlines; nested tables are skipped.
func readTable(dec *xml.Decoder) ([][]string, error) {
	var rows [][]string
	var row []string
	var cell []string
	inCell := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading table: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "tr":
				row = nil
			case "tc":
				inCell = true
				cell = nil
			case "p":
				text, err := readParagraph(dec)
				if err != nil {
					return nil, err
				}
				if inCell {
					cell = append(cell, text)
				}
			case "tbl":
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("skipping nested table: %w", err)
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "tc":
				row = append(row, strings.Join(cell, "\n"))
				inCell = false
			case "tr":
				rows = append(rows, row)
			case "tbl":
				return rows, nil
			}
		}
	}
}
