// Package doc extracts text from card documents. Fee schedules and
// key-fact statements ship as PDFs; the extractor parses their content
// streams and reports a quality score so the pipeline can skip garbage
// extractions. Plain text and markdown pass through normalized.
package doc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Format identifies a document type.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatMD  Format = "md"
	FormatTXT Format = "txt"
)

// Result is extracted document content.
type Result struct {
	Text      string
	Title     string
	Format    Format
	PageCount int     // PDFs only
	Quality   float64 // 0..1, blend of printable and word-like ratios
}

// ParseError reports a document that could not be extracted.
type ParseError struct {
	Name   string
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s as %s: %v", e.Name, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Extractor turns document bytes into text.
type Extractor struct {
	log *slog.Logger
}

// New creates an Extractor.
func New(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{log: log}
}

// Extract routes data by format, detected from the PDF magic prefix
// first and the file name second.
func (e *Extractor) Extract(ctx context.Context, data []byte, name string) (*Result, error) {
	format := detectFormat(data, name)
	switch format {
	case FormatPDF:
		return e.extractPDF(ctx, data, name)
	case FormatTXT, FormatMD:
		return extractText(data, format), nil
	default:
		return nil, &ParseError{Name: name, Format: string(format), Err: errors.New("unsupported format")}
	}
}

func detectFormat(data []byte, name string) Format {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return FormatPDF
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return FormatPDF
	case ".md", ".markdown":
		return FormatMD
	case ".txt", "":
		return FormatTXT
	default:
		return Format(strings.TrimPrefix(ext, "."))
	}
}

func extractText(data []byte, format Format) *Result {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSpace(text)
	return &Result{
		Text:    text,
		Title:   firstLine(text, format),
		Format:  format,
		Quality: qualityScore(text),
	}
}

// firstLine returns the first non-empty line, markdown heading markers
// stripped, capped at 200 characters.
func firstLine(text string, format Format) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if format == FormatMD {
			line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line == "" {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return ""
}
