package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hurttlocker/cardintel/internal/cache"
	"github.com/hurttlocker/cardintel/internal/doc"
	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/fetch"
	"github.com/hurttlocker/cardintel/internal/llm"
	"github.com/hurttlocker/cardintel/internal/store"
)

type fakeProvider struct {
	out string
	err error

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func (f *fakeProvider) Name() string { return "fake/model" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t)), 1, 0}
	}
	return vecs, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

const modelPayload = `{"intelligence": [
  {"title": "5% Dining Cashback",
   "description": "Earn 5% cashback on all dining spends at restaurants worldwide, capped monthly.",
   "category": "cashback", "tags": ["dining", "cashback"],
   "value": {"raw_value": "5%", "numeric_value": 5, "value_type": "percentage"},
   "entities": [{"name": "Talabat", "type": "merchant"}],
   "is_headline": true, "confidence": 0.9},
  {"title": "Airport lounge access",
   "description": "Unlimited complimentary access to over 1,000 airport lounges worldwide.",
   "category": "lounge", "tags": ["lounge", "travel"], "confidence": 0.8},
  {"title": "Annual fee",
   "description": "Annual membership fee of AED 315, waived in the first year.",
   "category": "fees", "tags": ["fee"],
   "value": {"raw_value": "AED 315", "numeric_value": 315, "value_type": "fixed_amount"},
   "confidence": 0.85}
]}`

const rootHTML = `<html><head><title>FAB Platinum Cashback Credit Card</title></head><body><main>
<h1>Platinum Cashback Credit Card</h1>
<p>Earn 5% cashback on dining and groceries with the Platinum Mastercard credit card. Rewards are credited monthly.</p>
<p>Complimentary airport lounge access at over 1,000 lounges worldwide, plus golf and cinema offers.</p>
<p>Annual fee AED 315. Minimum salary AED 15,000 per month.</p>
<p><a href="/cards/platinum-cashback/benefits">Card benefits</a></p>
<p><a href="/cards/platinum-cashback/fees">Fees and charges</a></p>
<p><a href="/docs/fee-schedule.pdf">Schedule of charges</a></p>
<p><a href="/card-insurance-program">Credit shield insurance</a></p>
<p><a href="/about-us">About us</a></p>
</main></body></html>`

const benefitsHTML = `<html><head><title>Platinum Cashback Card Benefits | FAB</title></head><body><main>
<p>10% discount on cinema tickets at Vox Cinemas every weekend for cardholders.</p>
<p>Complimentary golf at Yas Links, two rounds per month with minimum spend.</p>
<p>Travel insurance covering trips up to 90 days, plus valet parking twice a month.</p>
</main></body></html>`

const feesHTML = `<html><head><title>Fees and Charges | FAB</title></head><body><main>
<p>Annual fee AED 315, waived in the first year. Interest rate 3.25% per month on retail purchases.</p>
<p>Late payment fee AED 230. Cash advance fee 3% of the amount withdrawn.</p>
<p>Minimum salary AED 15,000 required for eligibility.</p>
</main></body></html>`

const insuranceHTML = `<html><head><title>Credit Shield</title></head><body><main>
<p>Branch opening hours and contact telephone numbers for our head office.</p>
<p>Visit any branch to speak with an advisor about this program.</p>
</main></body></html>`

// testServer serves a small bank site: a card page linking to a
// benefits page, a fee page, a broken PDF, and a page with nothing
// card-related on it.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(path, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(body))
		})
	}
	serve("/cards/platinum-cashback", rootHTML)
	serve("/cards/platinum-cashback/benefits", benefitsHTML)
	serve("/cards/platinum-cashback/fees", feesHTML)
	serve("/card-insurance-program", insuranceHTML)
	mux.HandleFunc("/docs/fee-schedule.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4\nnot a real document"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFetcher() *fetch.Fetcher {
	return fetch.New(fetch.Config{RequestsPerSecond: 1000}, nil)
}

func TestRunEndToEnd(t *testing.T) {
	srv := testServer(t)
	s := testStore(t)
	provider := &fakeProvider{out: modelPayload}
	norm := extract.NewNormalizer(provider, cache.NewMemory(0), extract.DefaultNormalizeConfig(), nil)
	p := New(Deps{Store: s, Fetcher: testFetcher(), Normalizer: norm}, Config{}, nil)

	var progressMu sync.Mutex
	var lastDone, lastTotal int
	rep, err := p.Run(context.Background(), RunOptions{
		URL:   srv.URL + "/cards/platinum-cashback",
		Model: "fake/model",
		ProgressFn: func(done, total int, url string) {
			progressMu.Lock()
			lastDone, lastTotal = done, total
			progressMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.RunID == "" {
		t.Fatal("report has no run id")
	}
	if rep.SourcesFetched != 3 {
		t.Errorf("SourcesFetched = %d, want 3", rep.SourcesFetched)
	}
	if rep.SourcesSkipped != 1 {
		t.Errorf("SourcesSkipped = %d, want 1", rep.SourcesSkipped)
	}
	if rep.SourcesFailed != 1 {
		t.Errorf("SourcesFailed = %d, want 1", rep.SourcesFailed)
	}
	if rep.Items < 3 {
		t.Errorf("Items = %d, want at least 3", rep.Items)
	}
	if lastDone != 3 || lastTotal != 3 {
		t.Errorf("final progress = %d/%d, want 3/3", lastDone, lastTotal)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want one per fetched source", provider.callCount())
	}

	run, err := s.GetRun(context.Background(), rep.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v (%v)", run, err)
	}
	if run.Status != store.RunCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
	if run.CardName == "" {
		t.Error("card name was not identified from the root page")
	}
	if run.BankKey != "fab" {
		t.Errorf("bank key = %q, want fab", run.BankKey)
	}
	if run.Network != "mastercard" || run.Tier != "platinum" {
		t.Errorf("network/tier = %q/%q, want mastercard/platinum", run.Network, run.Tier)
	}
	if run.Model != "fake/model" {
		t.Errorf("model = %q", run.Model)
	}
	if run.ItemCount != rep.Items {
		t.Errorf("run item count = %d, report says %d", run.ItemCount, rep.Items)
	}
	if run.Confidence < 0.6 {
		t.Errorf("confidence = %.2f, want at least the scoring floor", run.Confidence)
	}
	if run.Validation == store.ValidationPending {
		t.Error("validation still pending after a run with items")
	}

	items, err := s.ListItems(context.Background(), store.ItemFilter{RunID: rep.RunID})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != rep.Items {
		t.Errorf("stored items = %d, report says %d", len(items), rep.Items)
	}

	approval, err := s.GetApproval(context.Background(), rep.RunID)
	if err != nil || approval == nil {
		t.Fatalf("GetApproval: %v (%v)", approval, err)
	}
	if approval.Status != store.ApprovalPending {
		t.Errorf("approval status = %q, want pending", approval.Status)
	}
	if approval.CardName != run.CardName {
		t.Errorf("approval card = %q, run card = %q", approval.CardName, run.CardName)
	}

	entries, err := s.ListErrors(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("ListErrors: %v", err)
	}
	var parseErrs int
	for _, e := range entries {
		if e.Stage == "parse" {
			parseErrs++
		}
	}
	if parseErrs != 1 {
		t.Errorf("parse error entries = %d, want 1 for the broken PDF", parseErrs)
	}
}

func TestRunPatternOnly(t *testing.T) {
	srv := testServer(t)
	s := testStore(t)
	p := New(Deps{Store: s, Fetcher: testFetcher()}, Config{SkipLLM: true}, nil)

	rep, err := p.Run(context.Background(), RunOptions{URL: srv.URL + "/cards/platinum-cashback"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Items == 0 {
		t.Fatal("pattern extraction found nothing on pages full of rates and fees")
	}

	items, err := s.ListItems(context.Background(), store.ItemFilter{RunID: rep.RunID})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	for _, it := range items {
		for _, src := range it.Sources {
			if src.Method != "pattern" {
				t.Errorf("item %q has method %q, want pattern", it.Title, src.Method)
			}
		}
	}
}

func TestRunRootBypassesRelevance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Plain page</title></head><body><main>
<p>Nothing about any financial product lives on this page at all.</p>
</main></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := testStore(t)
	p := New(Deps{Store: s, Fetcher: testFetcher()}, Config{SkipLLM: true}, nil)

	rep, err := p.Run(context.Background(), RunOptions{
		URL:      srv.URL + "/card",
		CardName: "Test Card",
		BankName: "Test Bank",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.SourcesFetched != 1 {
		t.Errorf("SourcesFetched = %d, want the root kept despite zero relevance", rep.SourcesFetched)
	}
	run, err := s.GetRun(context.Background(), rep.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v (%v)", run, err)
	}
	if run.Status != store.RunCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
	if run.CardName != "Test Card" || run.BankName != "Test Bank" {
		t.Errorf("caller-supplied names were overwritten: %q / %q", run.CardName, run.BankName)
	}
}

func TestRunRootFetchFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := testStore(t)
	p := New(Deps{Store: s, Fetcher: testFetcher()}, Config{SkipLLM: true}, nil)

	rep, err := p.Run(context.Background(), RunOptions{URL: srv.URL + "/card"})
	if err == nil {
		t.Fatal("expected an error when no source can be processed")
	}
	if rep == nil || rep.RunID == "" {
		t.Fatal("a failed run still gets a report with its run id")
	}

	run, gerr := s.GetRun(context.Background(), rep.RunID)
	if gerr != nil || run == nil {
		t.Fatalf("GetRun: %v (%v)", run, gerr)
	}
	if run.Status != store.RunFailed {
		t.Errorf("run status = %q, want failed", run.Status)
	}

	entries, gerr := s.ListErrors(context.Background(), rep.RunID)
	if gerr != nil {
		t.Fatalf("ListErrors: %v", gerr)
	}
	if len(entries) == 0 || entries[0].Stage != "fetch" {
		t.Errorf("error entries = %+v, want one fetch failure", entries)
	}
}

func TestRunRequiresURL(t *testing.T) {
	p := New(Deps{Store: testStore(t), Fetcher: testFetcher()}, Config{}, nil)
	if _, err := p.Run(context.Background(), RunOptions{URL: "  "}); err == nil {
		t.Fatal("expected an error for a blank url")
	}
}

func TestRunModelFailureDegradesToPatterns(t *testing.T) {
	srv := testServer(t)
	s := testStore(t)
	provider := &fakeProvider{err: &llm.CallError{Provider: "fake", Attempts: 1, Message: "boom"}}
	norm := extract.NewNormalizer(provider, cache.NewMemory(0), extract.DefaultNormalizeConfig(), nil)
	p := New(Deps{Store: s, Fetcher: testFetcher(), Normalizer: norm}, Config{}, nil)

	rep, err := p.Run(context.Background(), RunOptions{URL: srv.URL + "/cards/platinum-cashback"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	run, gerr := s.GetRun(context.Background(), rep.RunID)
	if gerr != nil || run == nil {
		t.Fatalf("GetRun: %v (%v)", run, gerr)
	}
	if run.Status != store.RunCompleted {
		t.Errorf("run status = %q, want completed on model failure", run.Status)
	}
	if rep.Items == 0 {
		t.Error("pattern items should survive a model outage")
	}

	var normalizeErrs int
	for _, e := range rep.Errors {
		if e.Stage == "normalize" {
			normalizeErrs++
		}
	}
	if normalizeErrs != 3 {
		t.Errorf("normalize errors = %d, want one per fetched source", normalizeErrs)
	}
}

func TestExtractDocCache(t *testing.T) {
	mem := cache.NewMemory(0)
	p := New(Deps{Cache: mem}, Config{}, nil)

	text := "Annual fee AED 315. Interest rate 3.25% per month."
	page := &fetch.Page{FinalURL: "https://bank.test/docs/fees.txt", RawHTML: text}

	res, err := p.extractDoc(context.Background(), page)
	if err != nil {
		t.Fatalf("extractDoc: %v", err)
	}
	if res.Text == "" {
		t.Fatal("extraction returned no text")
	}
	if _, ok := mem.Get(cache.ExtractionKey("pdf", text)); !ok {
		t.Error("extraction result was not cached")
	}

	// The seeded bytes are not a parseable document, so this call can
	// only succeed through the cache.
	broken := "%PDF-1.4\nbroken"
	seeded, _ := json.Marshal(&doc.Result{Text: "cached text", Title: "cached copy", Quality: 0.9})
	mem.Set(cache.ExtractionKey("pdf", broken), seeded, cache.ExtractionTTL)

	got, err := p.extractDoc(context.Background(), &fetch.Page{FinalURL: "https://bank.test/docs/fees.pdf", RawHTML: broken})
	if err != nil {
		t.Fatalf("extractDoc with a warm cache: %v", err)
	}
	if got.Title != "cached copy" || got.Text != "cached text" {
		t.Errorf("got %q / %q, want the cached extraction", got.Title, got.Text)
	}
}

func TestExtractDocNilCache(t *testing.T) {
	p := New(Deps{}, Config{}, nil)
	res, err := p.extractDoc(context.Background(), &fetch.Page{FinalURL: "https://bank.test/note.txt", RawHTML: "plain note"})
	if err != nil {
		t.Fatalf("extractDoc: %v", err)
	}
	if res.Text != "plain note" {
		t.Errorf("text = %q", res.Text)
	}
}
