// Package extract converts raw document bytes into plain text.
//
// A Registry maps lower-case file extensions to format extractors. It is
// built once from Options and runs every extraction on a bounded worker pool
// so large documents never pile up unbounded in memory.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Extractor turns the bytes of one document into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}

// Loading engines.
const (
	EngineDefault = "default"
	EngineDocconv = "docconv"
)

// textExtensions are decoded as UTF-8 as-is.
var textExtensions = []string{
	".txt", ".md", ".html", ".htm", ".tex", ".json", ".xml", ".yaml", ".yml",
	".rtf", ".odt", ".epub", ".csv", ".log", ".conf", ".ini", ".properties",
	".sql", ".bat", ".sh", ".c", ".cpp", ".py", ".java", ".js", ".ts",
	".swift", ".go", ".rb", ".php", ".css", ".scss", ".less",
}

// SupportedExtensions returns every extension the registry understands, in
// scan order.
func SupportedExtensions() []string {
	exts := []string{".txt", ".md", ".pdf", ".docx", ".pptx", ".xlsx"}
	for _, e := range textExtensions {
		if e != ".txt" && e != ".md" {
			exts = append(exts, e)
		}
	}
	return exts
}

// Options configures a Registry.
type Options struct {
	// Engine selects the conversion backend for rich formats:
	// EngineDefault or EngineDocconv.
	Engine      string
	PDFPassword string
	// Workers caps concurrent extractions. Values below 1 mean 1.
	Workers int
	Logger  *slog.Logger
}

type format struct {
	label string
	ex    Extractor
}

// Registry dispatches extraction by file extension.
type Registry struct {
	formats map[string]format
	pool    *Pool
	logger  *slog.Logger
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// NewRegistry resolves the extractor for every supported extension.
func NewRegistry(opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating extraction pool: %w", err)
	}

	r := &Registry{
		formats: make(map[string]format),
		pool:    pool,
		logger:  logger,
	}

	for _, ext := range textExtensions {
		r.formats[ext] = format{label: "TEXT", ex: ExtractorFunc(extractText)}
	}

	var pdfEx Extractor = pdfExtractor{password: opts.PDFPassword}
	var docxEx Extractor = ExtractorFunc(extractDocx)

	switch strings.ToLower(opts.Engine) {
	case "", EngineDefault:
	case EngineDocconv:
		if _, err := lookPath("pdftotext"); err == nil {
			pdfEx = ExtractorFunc(convertPDF)
		} else {
			logger.Warn("docconv engine configured but pdftotext is not available, falling back to built-in PDF reader")
		}
		docxEx = ExtractorFunc(convertDocx)
	default:
		pool.Release()
		return nil, fmt.Errorf("unknown document loading engine %q", opts.Engine)
	}

	r.formats[".pdf"] = format{label: "PDF", ex: pdfEx}
	r.formats[".docx"] = format{label: "DOCX", ex: docxEx}
	r.formats[".pptx"] = format{label: "PPTX", ex: ExtractorFunc(extractPptx)}
	r.formats[".xlsx"] = format{label: "XLSX", ex: ExtractorFunc(extractXlsx)}

	return r, nil
}

// Register overrides or adds the extractor for ext.
func (r *Registry) Register(ext, label string, ex Extractor) {
	r.formats[strings.ToLower(ext)] = format{label: label, ex: ex}
}

// Supports reports whether ext has an extractor.
func (r *Registry) Supports(ext string) bool {
	_, ok := r.formats[strings.ToLower(ext)]
	return ok
}

// Close releases the worker pool.
func (r *Registry) Close() {
	r.pool.Release()
}

// Extract converts data using the extractor registered for ext. Per-file
// failures come back as *Error. Any other error means the caller's context
// ended or the pool could not accept work.
func (r *Registry) Extract(ctx context.Context, data []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	f, ok := r.formats[ext]
	if !ok {
		return "", errUnsupported(ext)
	}

	text, err := r.pool.Do(ctx, func() (string, error) {
		return f.ex.Extract(ctx, data)
	})
	if err == nil {
		return text, nil
	}

	var xe *Error
	if errors.As(err, &xe) {
		return "", xe
	}
	if ctx.Err() != nil || errors.Is(err, ErrPoolClosed) {
		return "", err
	}
	return "", NewError(KindFormatProcessing, Prefix+f.label+" processing error", err,
		"Failed to extract text from %s: %v", f.label, err)
}
