package fetch

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// linkKeywords mark hrefs and anchor text worth following from a card
// page. Drawn from how UAE banks structure their card sites.
var linkKeywords = []string{
	"benefit", "feature", "offer", "reward", "cashback", "lounge",
	"key-fact", "key fact", "terms", "condition", "fee", "tariff",
	"eligib", "cinema", "golf", "concierge", "insurance", "detail",
	"schedule of charges", "faq",
}

// skipExtensions are asset links never worth fetching.
var skipExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
	".css", ".js", ".woff", ".woff2", ".mp4", ".zip",
}

// pageLinks collects same-host links worth following, deduplicated and
// ordered by crawl priority.
func pageLinks(doc *goquery.Document, pageURL *url.URL) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := pageURL.ResolveReference(ref)
		abs.Fragment = ""
		if abs.Host != pageURL.Host {
			return
		}
		full := abs.String()
		if seen[full] {
			return
		}
		if !wantLink(full, strings.ToLower(strings.TrimSpace(a.Text()))) {
			return
		}
		seen[full] = true
		links = append(links, full)
	})

	sort.SliceStable(links, func(i, j int) bool {
		return linkPriority(links[i]) < linkPriority(links[j])
	})
	return links
}

func wantLink(link, anchorText string) bool {
	lower := strings.ToLower(link)
	path := lower
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	if strings.HasSuffix(path, ".pdf") {
		return true
	}
	for _, kw := range linkKeywords {
		if strings.Contains(lower, kw) || strings.Contains(anchorText, kw) {
			return true
		}
	}
	return false
}

// linkPriority orders crawl candidates. Fee schedules and key-fact
// statements carry the densest numbers, so PDFs go first.
func linkPriority(link string) int {
	lower := strings.ToLower(link)
	switch {
	case strings.Contains(lower, ".pdf"):
		return 0
	case strings.Contains(lower, "key-fact") || strings.Contains(lower, "keyfact"):
		return 1
	case strings.Contains(lower, "terms") || strings.Contains(lower, "condition"):
		return 2
	case strings.Contains(lower, "benefit") || strings.Contains(lower, "feature"):
		return 3
	default:
		return 4
	}
}
