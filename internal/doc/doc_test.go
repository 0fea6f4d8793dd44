package doc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExtractTextPassthrough(t *testing.T) {
	e := New(nil)
	data := []byte("Schedule of Charges\r\n\r\nAnnual fee AED 315.\r\n")

	res, err := e.Extract(context.Background(), data, "charges.txt")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Format != FormatTXT {
		t.Errorf("expected txt format, got %s", res.Format)
	}
	if res.Title != "Schedule of Charges" {
		t.Errorf("unexpected title: %q", res.Title)
	}
	if !strings.Contains(res.Text, "Annual fee AED 315.") {
		t.Errorf("text not preserved: %q", res.Text)
	}
	if strings.Contains(res.Text, "\r") {
		t.Error("expected line endings normalized")
	}
	if res.Quality < 0.9 {
		t.Errorf("expected high quality for clean text, got %f", res.Quality)
	}
	if res.PageCount != 0 {
		t.Errorf("expected no page count for text, got %d", res.PageCount)
	}
}

func TestExtractMarkdownTitle(t *testing.T) {
	e := New(nil)
	data := []byte("# FAB Cashback Card\n\nEarn 5% cashback on dining.\n")

	res, err := e.Extract(context.Background(), data, "card.md")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Format != FormatMD {
		t.Errorf("expected md format, got %s", res.Format)
	}
	if res.Title != "FAB Cashback Card" {
		t.Errorf("expected heading stripped of markers, got %q", res.Title)
	}
}

func TestExtractUnsupported(t *testing.T) {
	e := New(nil)
	_, err := e.Extract(context.Background(), []byte("PK\x03\x04"), "statement.docx")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if pe.Format != "docx" {
		t.Errorf("expected docx format in error, got %q", pe.Format)
	}
	if pe.Name != "statement.docx" {
		t.Errorf("expected name in error, got %q", pe.Name)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		data []byte
		name string
		want Format
	}{
		{[]byte("%PDF-1.7 body"), "download", FormatPDF},
		{[]byte("plain"), "fees.pdf", FormatPDF},
		{[]byte("plain"), "notes.txt", FormatTXT},
		{[]byte("plain"), "readme.MD", FormatMD},
		{[]byte("plain"), "statement", FormatTXT},
		{[]byte("plain"), "data.docx", Format("docx")},
	}
	for _, tt := range tests {
		if got := detectFormat(tt.data, tt.name); got != tt.want {
			t.Errorf("detectFormat(%q, %q) = %s, want %s", tt.data, tt.name, got, tt.want)
		}
	}
}

func TestQualityScore(t *testing.T) {
	clean := "Earn 5% cashback on dining and groceries every month with this card."
	if q := qualityScore(clean); q < 0.9 {
		t.Errorf("expected high quality for clean text, got %f", q)
	}

	garbage := strings.Repeat("\x01\x02", 50)
	if q := qualityScore(garbage); q > 0.3 {
		t.Errorf("expected low quality for control characters, got %f", q)
	}

	if q := qualityScore(""); q != 0 {
		t.Errorf("expected zero quality for empty text, got %f", q)
	}
	if q := qualityScore("   \n  "); q != 0 {
		t.Errorf("expected zero quality for whitespace, got %f", q)
	}
}

func TestPrintableRatio(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"clean text", 1.0},
		{"ab�cd", 0.8},
		{"", 1.0},
	}
	for _, tt := range tests {
		if got := printableRatio(tt.text); got != tt.want {
			t.Errorf("printableRatio(%q) = %f, want %f", tt.text, got, tt.want)
		}
	}
}

func TestWordlikeRatio(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"annual fee waived", 1.0},
		{"a b c", 0.0},
		{"ab " + strings.Repeat("x", 20), 0.5},
		{"", 0.0},
	}
	for _, tt := range tests {
		if got := wordlikeRatio(tt.text); got != tt.want {
			t.Errorf("wordlikeRatio(%q) = %f, want %f", tt.text, got, tt.want)
		}
	}
}
