package local

import (
	"fmt"
	"strings"
)

func chunkKey(docID string, order int) string {
	return fmt.Sprintf("%s:%05d", docID, order)
}

// chunkText splits content into windows of size runes that overlap by
// overlap runes. Blank windows are dropped.
func chunkText(docID, content string, size, overlap int) []Chunk {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(content)
	step := size - overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, Chunk{
				DocID:   docID,
				Order:   len(chunks),
				Content: text,
				Runes:   len([]rune(text)),
			})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
