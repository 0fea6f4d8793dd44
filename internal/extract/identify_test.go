package extract

import "testing"

func TestIdentifyIssuer(t *testing.T) {
	tests := []struct {
		in      string
		display string
		key     string
	}{
		{"https://www.bankfab.com/en-ae/personal/credit-cards", "First Abu Dhabi Bank", "fab"},
		{"First Abu Dhabi Bank Cashback Card", "First Abu Dhabi Bank", "fab"},
		{"https://www.emiratesnbd.com/en/cards", "Emirates NBD", "emirates_nbd"},
		{"Emirates NBD Skywards Signature", "Emirates NBD", "emirates_nbd"},
		{"https://www.adcb.com/en/personal/cards", "Abu Dhabi Commercial Bank", "adcb"},
		{"Mashreq Cashback Card", "Mashreq Bank", "mashreq"},
		{"https://rakbank.ae/cards", "RAKBANK", "rakbank"},
		{"Dubai Islamic Bank rewards", "Dubai Islamic Bank", "dib"},
		{"Commercial Bank of Dubai Visa", "Commercial Bank of Dubai", "cbd"},
		{"Standard Chartered Platinum", "Standard Chartered", "standard_chartered"},
		{"https://unknown.example/cards", "", ""},
		{"fabulous offers everywhere", "", ""},
	}
	for _, tt := range tests {
		display, key := IdentifyIssuer(tt.in)
		if display != tt.display || key != tt.key {
			t.Errorf("IdentifyIssuer(%q) = (%q, %q), want (%q, %q)", tt.in, display, key, tt.display, tt.key)
		}
	}
}

func TestIdentifyNetwork(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"World Elite Mastercard", "mastercard"},
		{"master card benefits", "mastercard"},
		{"Visa Infinite privileges", "visa"},
		{"advisable terms apply", ""},
		{"American Express Platinum", "amex"},
		{"Diners Club International", "diners"},
		{"Discover card offers", "discover"},
		{"discover the benefits", ""},
		{"no network here", ""},
	}
	for _, tt := range tests {
		if got := IdentifyNetwork(tt.in); got != tt.want {
			t.Errorf("IdentifyNetwork(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIdentifyTier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"World Elite Mastercard", "world elite"},
		{"World Mastercard", "world"},
		{"Visa Infinite", "infinite"},
		{"Visa Signature travel", "signature"},
		{"Platinum card", "platinum"},
		{"no tier", ""},
	}
	for _, tt := range tests {
		if got := IdentifyTier(tt.in); got != tt.want {
			t.Errorf("IdentifyTier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIdentifyCardName(t *testing.T) {
	tests := []struct {
		name  string
		title string
		url   string
		want  string
	}{
		{"from title", "FAB Cashback Credit Card - Apply Online", "https://x.example/a", "FAB Cashback Credit Card"},
		{"from prepaid title", "GEMS Titanium Prepaid Card | Mashreq", "https://x.example/a", "GEMS Titanium Prepaid Card"},
		{"from slug", "Apply today", "https://www.bankfab.com/en-ae/cards/cashback-credit-card", "Cashback Credit Card"},
		{"slug with extension", "", "https://bank.example/cards/infinite_card.aspx", "Infinite Card"},
		{"no signal", "", "", ""},
	}
	for _, tt := range tests {
		if got := IdentifyCardName(tt.title, tt.url); got != tt.want {
			t.Errorf("%s: IdentifyCardName = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIdentify(t *testing.T) {
	p := Identify(
		"FAB Cashback Credit Card",
		"https://www.bankfab.com/en-ae/personal/credit-cards/cashback-credit-card",
		"A World Elite Mastercard with 5% cashback on dining.",
	)
	if p.BankKey != "fab" {
		t.Errorf("bank key = %q", p.BankKey)
	}
	if p.Network != "mastercard" {
		t.Errorf("network = %q", p.Network)
	}
	if p.Tier != "world elite" {
		t.Errorf("tier = %q", p.Tier)
	}
	if p.Name != "FAB Cashback Credit Card" {
		t.Errorf("name = %q", p.Name)
	}
}
