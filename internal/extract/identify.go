package extract

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CardProfile is what a crawl learns about the card itself, as opposed
// to its benefits.
type CardProfile struct {
	Name    string `json:"name"`
	Bank    string `json:"bank"`
	BankKey string `json:"bank_key"`
	Network string `json:"network"`
	Tier    string `json:"tier"`
}

var issuerRules = []struct {
	re      *regexp.Regexp
	display string
	key     string
}{
	{regexp.MustCompile(`(?i)first\s+abu\s+dhabi|bankfab|\bfab\b`), "First Abu Dhabi Bank", "fab"},
	{regexp.MustCompile(`(?i)emirates\s*nbd`), "Emirates NBD", "emirates_nbd"},
	{regexp.MustCompile(`(?i)abu\s+dhabi\s+commercial|\badcb\b`), "Abu Dhabi Commercial Bank", "adcb"},
	{regexp.MustCompile(`(?i)mashreq`), "Mashreq Bank", "mashreq"},
	{regexp.MustCompile(`(?i)rakbank|rak\s+bank|ras\s+al\s+khaimah`), "RAKBANK", "rakbank"},
	{regexp.MustCompile(`(?i)dubai\s+islamic|\bdib\b`), "Dubai Islamic Bank", "dib"},
	{regexp.MustCompile(`(?i)commercial\s+bank\s+of\s+dubai|\bcbd\b`), "Commercial Bank of Dubai", "cbd"},
	{regexp.MustCompile(`(?i)standard\s+chartered`), "Standard Chartered", "standard_chartered"},
}

// IdentifyIssuer matches a URL, title, or page text against known
// issuers. It returns the display name and a stable key, or empty
// strings when no issuer matches.
func IdentifyIssuer(s string) (string, string) {
	for _, rule := range issuerRules {
		if rule.re.MatchString(s) {
			return rule.display, rule.key
		}
	}
	return "", ""
}

var networkRules = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)master\s*card`), "mastercard"},
	{regexp.MustCompile(`(?i)\bvisa\b`), "visa"},
	{regexp.MustCompile(`(?i)american\s+express|\bamex\b`), "amex"},
	{regexp.MustCompile(`(?i)diners\s+club`), "diners"},
	{regexp.MustCompile(`(?i)discover\s+(?:card|network)`), "discover"},
}

// IdentifyNetwork finds the card network mentioned in text, or "".
func IdentifyNetwork(s string) string {
	for _, rule := range networkRules {
		if rule.re.MatchString(s) {
			return rule.name
		}
	}
	return ""
}

// tierOrder is scanned most specific first so "world elite" never
// reports as "world".
var tierOrder = []string{
	"world elite", "infinite", "signature", "platinum", "titanium",
	"world", "gold", "classic",
}

// IdentifyTier finds the card tier mentioned in text, or "".
func IdentifyTier(s string) string {
	lower := strings.ToLower(s)
	for _, tier := range tierOrder {
		if strings.Contains(lower, tier) {
			return tier
		}
	}
	return ""
}

var cardNameRe = regexp.MustCompile(`(?i)[a-z][a-z0-9&' ]{2,60}?\s+(?:credit\s+|debit\s+|prepaid\s+)?card\b`)

var titleCaser = cases.Title(language.English)

// IdentifyCardName extracts a card name from a page title, falling back
// to a prettified URL slug.
func IdentifyCardName(title, rawURL string) string {
	if m := cardNameRe.FindString(title); m != "" {
		return collapseSpace(m)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return ""
	}
	slug := path.Base(strings.TrimRight(u.Path, "/"))
	if i := strings.LastIndexByte(slug, '.'); i > 0 {
		slug = slug[:i]
	}
	slug = strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	slug = collapseSpace(slug)
	if slug == "" || slug == "/" {
		return ""
	}
	return titleCaser.String(slug)
}

// Identify builds a card profile from a page. The URL is the most
// reliable issuer signal, so it is tried before the text.
func Identify(title, rawURL, content string) CardProfile {
	p := CardProfile{Name: IdentifyCardName(title, rawURL)}
	if p.Bank, p.BankKey = IdentifyIssuer(rawURL); p.Bank == "" {
		p.Bank, p.BankKey = IdentifyIssuer(title + " " + content)
	}
	p.Network = IdentifyNetwork(title + " " + content)
	if p.Tier = IdentifyTier(title); p.Tier == "" {
		p.Tier = IdentifyTier(content)
	}
	return p
}
