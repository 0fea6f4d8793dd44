// Package chunk splits page and document text into embedding-sized
// pieces. Chunk identity is a pure function of source URL and text, so
// re-crawling unchanged content produces the same ids and the vector
// index stays stable across runs.
package chunk

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Config bounds chunk sizes in characters.
type Config struct {
	MinSize int // flush threshold; smaller chunks keep accumulating
	MaxSize int // soft ceiling per chunk
	Overlap int // characters carried into the next chunk
	MinPara int // paragraphs shorter than this are dropped
}

// DefaultConfig returns the sizes tuned for benefit pages.
func DefaultConfig() Config {
	return Config{MinSize: 80, MaxSize: 800, Overlap: 50, MinPara: 30}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSize <= 0 {
		c.MinSize = d.MinSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.Overlap < 0 {
		c.Overlap = d.Overlap
	}
	if c.MinPara <= 0 {
		c.MinPara = d.MinPara
	}
	return c
}

// Metadata travels with every chunk into the vector index.
type Metadata struct {
	SourceURL  string   `json:"source_url"`
	Title      string   `json:"source_title,omitempty"`
	CardName   string   `json:"card_name,omitempty"`
	BankName   string   `json:"bank_name,omitempty"`
	Network    string   `json:"network,omitempty"`
	Tier       string   `json:"tier,omitempty"`
	PageType   string   `json:"page_type"`
	Categories []string `json:"categories"`
	CharCount  int      `json:"char_count"`
}

// Chunk is one indexable piece of a source document.
type Chunk struct {
	ID       string   `json:"chunk_id"`
	Text     string   `json:"text"`
	Index    int      `json:"index"`
	Metadata Metadata `json:"metadata"`
}

// ID derives the chunk id from source URL and text alone.
func ID(sourceURL, text string) string {
	h := sha256.New()
	h.Write([]byte(sourceURL))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// Build chunks a document and attaches metadata. The page type is
// classified from the URL when the caller leaves it blank.
func Build(text string, meta Metadata, cfg Config) []Chunk {
	if meta.PageType == "" {
		meta.PageType = ClassifyPage(meta.SourceURL)
	}
	pieces := Split(text, cfg)
	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		m := meta
		m.Categories = Categorize(piece)
		m.CharCount = len(piece)
		chunks = append(chunks, Chunk{
			ID:       ID(meta.SourceURL, piece),
			Text:     piece,
			Index:    i,
			Metadata: m,
		})
	}
	return chunks
}

var paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)

// Split cuts text into chunks between MinSize and MaxSize characters.
// Paragraphs accumulate until the ceiling, each flush carries Overlap
// trailing characters into the next chunk, and paragraphs longer than
// the ceiling are cut at sentence or word boundaries.
func Split(text string, cfg Config) []string {
	cfg = cfg.withDefaults()

	var pieces []string
	for _, block := range paragraphSplitRe.Split(text, -1) {
		p := strings.TrimSpace(block)
		if len(p) < cfg.MinPara {
			continue
		}
		if len(p) <= cfg.MaxSize {
			pieces = append(pieces, p)
			continue
		}
		pieces = append(pieces, hardSplit(p, cfg)...)
	}
	if len(pieces) == 0 {
		return nil
	}

	var chunks []string
	current := ""
	for _, p := range pieces {
		candidate := p
		if current != "" {
			candidate = current + "\n\n" + p
		}
		if current != "" && len(candidate) > cfg.MaxSize && len(current) >= cfg.MinSize {
			chunks = append(chunks, current)
			if tail := overlapTail(current, cfg.Overlap); tail != "" {
				candidate = tail + "\n\n" + p
			} else {
				candidate = p
			}
			if len(candidate) > cfg.MaxSize {
				candidate = p
			}
		}
		current = candidate
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// hardSplit cuts an oversized paragraph at MaxSize boundaries,
// preferring a sentence end, then a word break, in the final third of
// each cut.
func hardSplit(p string, cfg Config) []string {
	var out []string
	pos := 0
	for pos < len(p) {
		end := pos + cfg.MaxSize
		if end >= len(p) {
			if piece := strings.TrimSpace(p[pos:]); piece != "" {
				out = append(out, piece)
			}
			break
		}
		for end > pos && !utf8.RuneStart(p[end]) {
			end--
		}
		cut := p[pos:end]
		searchStart := len(cut) * 2 / 3
		if idx := strings.LastIndex(cut[searchStart:], ". "); idx != -1 {
			end = pos + searchStart + idx + 1
		} else if idx := strings.LastIndex(cut[searchStart:], " "); idx != -1 {
			end = pos + searchStart + idx
		}
		if piece := strings.TrimSpace(p[pos:end]); piece != "" {
			out = append(out, piece)
		}
		next := end - cfg.Overlap
		if next <= pos {
			next = end
		}
		pos = next
	}
	return out
}

// overlapTail returns the last n characters of s starting at a word
// boundary, or "" when s is not meaningfully longer than the overlap.
func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	from := len(s) - n
	for from < len(s) && !utf8.RuneStart(s[from]) {
		from++
	}
	tail := s[from:]
	if i := strings.IndexByte(tail, ' '); i >= 0 && i+1 < len(tail) {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}

// categoryKeywords tags chunks with the benefit areas they mention.
var categoryKeywords = map[string][]string{
	"cashback":      {"cashback", "cash back"},
	"rewards":       {"reward", "points", "miles", "skywards", "touchpoints"},
	"travel":        {"travel", "flight", "hotel", "airport transfer", "visa on arrival"},
	"dining":        {"dining", "restaurant", "zomato", "talabat"},
	"lounge":        {"lounge", "priority pass"},
	"insurance":     {"insurance", "takaful", "protection", "cover"},
	"fees":          {"fee", "charge", "tariff", "interest", "apr"},
	"eligibility":   {"salary", "eligib", "minimum spend", "requirement"},
	"shopping":      {"shopping", "mall", "retail", "voucher", "amazon", "noon"},
	"entertainment": {"cinema", "movie", "golf", "theme park", "vox"},
	"lifestyle":     {"valet", "concierge", "spa", "gym", "fitness"},
}

// Categorize returns the sorted benefit categories a text mentions.
func Categorize(text string) []string {
	lower := strings.ToLower(text)
	var cats []string
	for cat, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				cats = append(cats, cat)
				break
			}
		}
	}
	sort.Strings(cats)
	return cats
}

// ClassifyPage buckets a URL by what kind of card page it serves.
func ClassifyPage(rawURL string) string {
	lower := strings.ToLower(rawURL)
	trimmed := lower
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch {
	case strings.HasSuffix(trimmed, ".pdf"):
		return "pdf"
	case containsAny(lower, "terms", "conditions", "tnc", "key-facts", "keyfacts"):
		return "terms"
	case containsAny(lower, "fee", "charges", "tariff", "rates", "pricing"):
		return "fees"
	case containsAny(lower, "benefit", "offer", "privilege", "reward", "feature"):
		return "benefits"
	default:
		return "general"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
