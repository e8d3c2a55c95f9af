package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/ragdocs/internal/documents"
	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/extract"
)

type extractorFunc func(ctx context.Context, data []byte, ext string) (string, error)

func (f extractorFunc) Extract(ctx context.Context, data []byte, ext string) (string, error) {
	return f(ctx, data, ext)
}

func TestEnqueueFile(t *testing.T) {
	env := newTestPipeline(t)
	path := env.writeInput(t, "notes.txt", "hello world")

	ok, trackID := env.p.EnqueueFile(context.Background(), path, "upload_1")
	if !ok || trackID != "upload_1" {
		t.Fatalf("EnqueueFile = %v, %q", ok, trackID)
	}
	if len(env.eng.enqueued) != 1 {
		t.Fatalf("enqueued %d docs", len(env.eng.enqueued))
	}
	doc := env.eng.enqueued[0]
	if doc.Content != "hello world" || doc.FilePath != "notes.txt" {
		t.Errorf("doc = %+v", doc)
	}
	if exists(path) {
		t.Error("source file should have moved")
	}
	if !exists(filepath.Join(env.docs.EnqueuedDir(), "notes.txt")) {
		t.Error("file missing from enqueued directory")
	}
}

func TestEnqueueFile_GeneratesTrackID(t *testing.T) {
	env := newTestPipeline(t)
	path := env.writeInput(t, "a.md", "# a")

	ok, trackID := env.p.EnqueueFile(context.Background(), path, "")
	if !ok || !strings.HasPrefix(trackID, "unknown_") {
		t.Errorf("EnqueueFile = %v, %q", ok, trackID)
	}
}

func TestEnqueueFile_SameNameTwice(t *testing.T) {
	env := newTestPipeline(t)
	ctx := context.Background()

	for _, content := range []string{"first report", "second report"} {
		path := env.writeInput(t, "report.txt", content)
		if ok, _ := env.p.EnqueueFile(ctx, path, "t"); !ok {
			t.Fatalf("EnqueueFile(%q) failed", content)
		}
	}

	for name, want := range map[string]string{"report.txt": "first report", "report_001.txt": "second report"} {
		got, err := os.ReadFile(filepath.Join(env.docs.EnqueuedDir(), name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestEnqueueFile_Failures(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  []byte
		missing  bool
		ex       extractorFunc
		enqueue  error
		wantDesc string
		wantOrig string
	}{
		{
			name:     "missing file",
			file:     "gone.txt",
			missing:  true,
			wantDesc: "[File Extraction]File not found",
		},
		{
			name:     "invalid utf-8",
			file:     "latin1.txt",
			content:  []byte{'c', 'a', 'f', 0xe9},
			wantDesc: "[File Extraction]UTF-8 encoding error, please convert it to UTF-8 before processing",
		},
		{
			name:     "encrypted pdf without password",
			file:     "secret.pdf",
			content:  secretPDF(),
			wantDesc: "[File Extraction]PDF processing error",
			wantOrig: "Failed to extract text from PDF: PDF is encrypted but no password provided",
		},
		{
			name:     "unsupported",
			file:     "image.png",
			content:  []byte{0x89, 'P', 'N', 'G'},
			wantDesc: "[File Extraction]Unsupported file type: .png",
		},
		{
			name:     "nothing extracted",
			file:     "empty.pdf",
			content:  []byte("%PDF"),
			ex:       func(context.Context, []byte, string) (string, error) { return "", nil },
			wantDesc: "No content extracted",
			wantOrig: "No content could be extracted from file",
		},
		{
			name:     "whitespace only",
			file:     "blank.docx",
			content:  []byte("PK"),
			ex:       func(context.Context, []byte, string) (string, error) { return " \n\t ", nil },
			wantDesc: "[File Extraction]File contains only whitespace",
			wantOrig: "File content contains only whitespace characters",
		},
		{
			name:     "plain error",
			file:     "odd.pptx",
			content:  []byte("PK"),
			ex:       func(context.Context, []byte, string) (string, error) { return "", errors.New("pool closed") },
			wantDesc: "Unexpected processing error",
			wantOrig: "Unexpected error: pool closed",
		},
		{
			name:     "engine rejects",
			file:     "fine.txt",
			content:  []byte("good text"),
			enqueue:  errors.New("storage offline"),
			wantDesc: "Document enqueue error",
			wantOrig: "Failed to enqueue document: storage offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestPipeline(t)
			if tt.ex != nil {
				env.p.extractor = tt.ex
			}
			if tt.enqueue != nil {
				env.eng.enqueueFn = func([]engine.Document) error { return tt.enqueue }
			}
			path := filepath.Join(env.docs.InputDir(), tt.file)
			if !tt.missing {
				if err := os.WriteFile(path, tt.content, 0o644); err != nil {
					t.Fatal(err)
				}
			}

			ok, trackID := env.p.EnqueueFile(context.Background(), path, "upload_x")
			if ok || trackID != "upload_x" {
				t.Errorf("EnqueueFile = %v, %q", ok, trackID)
			}
			if len(env.eng.failures) != 1 {
				t.Fatalf("error records = %d, want 1", len(env.eng.failures))
			}
			rec := env.eng.failures[0]
			if rec.FilePath != tt.file {
				t.Errorf("FilePath = %q, want %q", rec.FilePath, tt.file)
			}
			if rec.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", rec.Description, tt.wantDesc)
			}
			if tt.wantOrig != "" && rec.OriginalError != tt.wantOrig {
				t.Errorf("OriginalError = %q, want %q", rec.OriginalError, tt.wantOrig)
			}
			if !tt.missing {
				if !exists(path) {
					t.Error("failed file should stay in the input directory")
				}
				if rec.FileSize != int64(len(tt.content)) {
					t.Errorf("FileSize = %d, want %d", rec.FileSize, len(tt.content))
				}
			}
		})
	}
}

// secretPDF is a PDF with an AES-256 security handler and no way to open it.
func secretPDF() []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.7\n")
	catalog := b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", catalog)
	b.WriteString("trailer\n<< /Size 2 /Root 1 0 R /Encrypt << /Filter /Standard /V 5 /R 6 /Length 256 >> >>\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xref)
	return []byte(b.String())
}

func TestReadError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind extract.Kind
		wantDesc string
	}{
		{"permission", &fs.PathError{Op: "open", Path: "a.txt", Err: fs.ErrPermission}, extract.KindPermissionDenied, "[File Extraction]Permission denied - cannot read file"},
		{"missing", &fs.PathError{Op: "open", Path: "a.txt", Err: fs.ErrNotExist}, extract.KindFileNotFound, "[File Extraction]File not found"},
		{"other", errors.New("input/output error"), extract.KindFileRead, "[File Extraction]File reading error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xe := readError(tt.err)
			if xe.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", xe.Kind, tt.wantKind)
			}
			if xe.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", xe.Description, tt.wantDesc)
			}
			if xe.Detail != tt.err.Error() {
				t.Errorf("Detail = %q, want %q", xe.Detail, tt.err.Error())
			}
			if !errors.Is(xe, tt.err) {
				t.Error("cause not wrapped")
			}
		})
	}
}

func TestEnqueueFile_TempFilesRemoved(t *testing.T) {
	env := newTestPipeline(t)
	ctx := context.Background()

	good := env.writeInput(t, TempPrefix+"good.txt", "content")
	bad := env.writeInput(t, TempPrefix+"bad.txt", "\xff\xfe")

	if ok, _ := env.p.EnqueueFile(ctx, good, "t"); !ok {
		t.Error("good temp file should enqueue")
	}
	if ok, _ := env.p.EnqueueFile(ctx, bad, "t"); ok {
		t.Error("bad temp file should fail")
	}
	for _, p := range []string{good, bad, filepath.Join(env.docs.EnqueuedDir(), TempPrefix+"good.txt")} {
		if exists(p) {
			t.Errorf("%s should be removed", filepath.Base(p))
		}
	}
}

func TestUniqueEnqueuedName(t *testing.T) {
	dir := t.TempDir()
	touch := func(name string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if got := UniqueEnqueuedName(dir, "doc.pdf", 42); got != "doc.pdf" {
		t.Errorf("free name = %q", got)
	}
	touch("doc.pdf")
	if got := UniqueEnqueuedName(dir, "doc.pdf", 42); got != "doc_001.pdf" {
		t.Errorf("first collision = %q", got)
	}
	touch("doc_001.pdf")
	touch("doc_003.pdf")
	if got := UniqueEnqueuedName(dir, "doc.pdf", 42); got != "doc_002.pdf" {
		t.Errorf("gap = %q", got)
	}

	touch("README")
	if got := UniqueEnqueuedName(dir, "README", 42); got != "README_001" {
		t.Errorf("no extension = %q", got)
	}

	touch("full.txt")
	for i := 1; i <= 999; i++ {
		touch(fmt.Sprintf("full_%03d.txt", i))
	}
	if got := UniqueEnqueuedName(dir, "full.txt", 1700000000); got != "full_1700000000.txt" {
		t.Errorf("exhausted = %q", got)
	}
}

func TestEnqueueFile_MoveFailureStillSucceeds(t *testing.T) {
	env := newTestPipeline(t)
	// A regular file where the enqueued directory should be blocks the move.
	if err := os.WriteFile(filepath.Join(env.docs.InputDir(), documents.EnqueuedDir), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	path := env.writeInput(t, "stay.txt", "text")

	if ok, _ := env.p.EnqueueFile(context.Background(), path, "t"); !ok {
		t.Error("enqueue should succeed even if the move fails")
	}
	if !exists(path) {
		t.Error("file should remain where it was")
	}
}
