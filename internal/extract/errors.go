package extract

import "fmt"

// Kind classifies why a file could not be turned into text.
type Kind int

const (
	KindPermissionDenied Kind = iota + 1
	KindFileNotFound
	KindFileRead
	KindEncoding
	KindBinaryMasquerade
	KindEmptyContent
	KindUnsupportedType
	KindPdfEncryptedNoPassword
	KindPdfIncorrectPassword
	KindFormatProcessing
	KindEnqueue
	KindNoContent
)

var kindNames = map[Kind]string{
	KindPermissionDenied:       "permission_denied",
	KindFileNotFound:           "file_not_found",
	KindFileRead:               "file_read_error",
	KindEncoding:               "encoding_error",
	KindBinaryMasquerade:       "binary_masquerade",
	KindEmptyContent:           "empty_content",
	KindUnsupportedType:        "unsupported_type",
	KindPdfEncryptedNoPassword: "pdf_encrypted_no_password",
	KindPdfIncorrectPassword:   "pdf_incorrect_password",
	KindFormatProcessing:       "format_processing_error",
	KindEnqueue:                "enqueue_error",
	KindNoContent:              "no_content",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Prefix marks descriptions produced while reading or parsing a file.
const Prefix = "[File Extraction]"

// Error is a per-file extraction failure. Description is the short,
// user-facing summary; Detail carries the underlying reason.
type Error struct {
	Kind        Kind
	Description string
	Detail      string
	Err         error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Description
	}
	return e.Description + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error whose Detail is formatted from format and args.
func NewError(kind Kind, description string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:        kind,
		Description: description,
		Detail:      fmt.Sprintf(format, args...),
		Err:         cause,
	}
}

func errEncoding(offset int) *Error {
	return NewError(KindEncoding,
		Prefix+"UTF-8 encoding error, please convert it to UTF-8 before processing", nil,
		"File is not valid UTF-8 encoded text: invalid byte at offset %d", offset)
}

func errEmpty() *Error {
	return NewError(KindEmptyContent, Prefix+"Empty file content", nil,
		"File contains no content or only whitespace")
}

func errBinary() *Error {
	return NewError(KindBinaryMasquerade, Prefix+"Binary data in text file", nil,
		"File appears to contain binary data representation instead of text")
}

func errUnsupported(ext string) *Error {
	return NewError(KindUnsupportedType, Prefix+"Unsupported file type: "+ext, nil,
		"File extension %s is not supported", ext)
}
