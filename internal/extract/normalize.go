package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hurttlocker/cardintel/internal/cache"
	"github.com/hurttlocker/cardintel/internal/llm"
)

// NormalizeConfig tunes the model-backed normalization pass.
type NormalizeConfig struct {
	Model       string        // Override model for this pass (empty = provider default)
	Budget      int           // Content character budget handed to the model
	Temperature float64
	MaxTokens   int
	NumCtx      int
	Timeout     time.Duration
	CacheTTL    time.Duration
}

// DefaultNormalizeConfig returns the tunings used by the pipeline.
func DefaultNormalizeConfig() NormalizeConfig {
	return NormalizeConfig{
		Budget:      DefaultContentBudget,
		Temperature: 0.1,
		MaxTokens:   2000,
		NumCtx:      8192,
		Timeout:     120 * time.Second,
		CacheTTL:    cache.NormalizeTTL,
	}
}

// OutputError means the model answered but not with usable JSON.
type OutputError struct {
	Raw string
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("model output is not valid JSON: %s", truncate(collapseSpace(e.Raw), 120))
}

// Normalizer turns selected page content into intelligence items via a
// model call. Responses are cached by model and content hash, so the
// same content is never normalized twice within the TTL.
type Normalizer struct {
	provider llm.Provider
	cache    cache.Cache
	cfg      NormalizeConfig
	log      *slog.Logger
}

// NewNormalizer wires a normalizer. A nil cache disables caching.
func NewNormalizer(provider llm.Provider, c cache.Cache, cfg NormalizeConfig, log *slog.Logger) *Normalizer {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultContentBudget
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.NormalizeTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{provider: provider, cache: c, cfg: cfg, log: log}
}

// NormalizeRequest is one page worth of content to normalize. Source
// carries the URL and section label; method and confidence are filled
// in per extracted item.
type NormalizeRequest struct {
	Content  string
	Source   SourceRef
	CardName string
	BankName string
}

const normalizeSystem = "You are a credit card benefits analyst. Extract every distinct " +
	"benefit, fee, and condition from the page content as structured JSON. Respond with only JSON."

const normalizePromptFmt = `Extract credit card intelligence from this content.

Card: %s
Bank: %s
Source: %s

Return JSON with this shape:
{"intelligence": [{"item_id": "", "title": "", "description": "", "category": "reward|access|discount|complimentary|insurance|service|fee|limit|eligibility|partner|promotion|feature|program|other", "tags": [], "value": {"raw_value": "", "numeric_value": 0, "value_type": "percentage|fixed_amount|points|multiplier|count|boolean|text|range", "currency": "", "unit": ""}, "conditions": [{"type": "", "description": ""}], "entities": [{"name": "", "type": "merchant|partner|program"}], "is_headline": false, "confidence": 0.0}]}

Rules:
- One item per distinct benefit, fee, or requirement.
- Keep raw_value exactly as written in the content.
- Omit value for items with no measurable value.
- Mark the card's top advertised benefits with is_headline true.
- confidence is your certainty in (0, 1].

Content:
%s`

// Normalize extracts items from the request content. The raw repaired
// model JSON is cached after a successful parse; a later call with the
// same content and model skips the provider entirely.
func (n *Normalizer) Normalize(ctx context.Context, req NormalizeRequest) ([]IntelligenceItem, error) {
	content := SelectContent(req.Content, n.cfg.Budget)
	model := n.cfg.Model
	if model == "" {
		model = n.provider.Name()
	}
	key := cache.NormalizeKey(model, content)
	at := time.Now().UTC()

	if n.cache != nil {
		if data, ok := n.cache.Get(key); ok {
			items, err := n.parseItems(data, key, req, at)
			if err == nil {
				return items, nil
			}
			// A cached response that no longer parses is useless.
			n.cache.Delete(key)
			n.log.Warn("discarding unparsable cached normalization", "key", key, "error", err)
		}
	}

	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	card, bank := req.CardName, req.BankName
	if card == "" {
		card = "unknown"
	}
	if bank == "" {
		bank = "unknown"
	}
	prompt := fmt.Sprintf(normalizePromptFmt, card, bank, req.Source.URL, content)

	out, err := n.provider.Complete(ctx, prompt, llm.CompletionOpts{
		MaxTokens:   n.cfg.MaxTokens,
		Temperature: n.cfg.Temperature,
		Model:       n.cfg.Model,
		Format:      "json",
		System:      normalizeSystem,
		NumCtx:      n.cfg.NumCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("normalizing %s: %w", req.Source.URL, err)
	}

	repaired, ok := llm.ExtractJSON(out)
	if !ok {
		return nil, &OutputError{Raw: out}
	}

	items, err := n.parseItems([]byte(repaired), key, req, at)
	if err != nil {
		return nil, err
	}
	if n.cache != nil {
		n.cache.Set(key, []byte(repaired), n.cfg.CacheTTL)
	}
	return items, nil
}

// Wire types for the model response. The payload may nest items under
// any of the accepted keys or arrive as a bare array.
type modelPayload struct {
	Intelligence []modelItem `json:"intelligence"`
	Items        []modelItem `json:"items"`
	Benefits     []modelItem `json:"benefits"`
}

type modelItem struct {
	ID                 string           `json:"item_id"`
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	Category           string           `json:"category"`
	Tags               []string         `json:"tags"`
	Value              *modelValue      `json:"value"`
	Conditions         []modelCondition `json:"conditions"`
	Entities           []modelEntity    `json:"entities"`
	Headline           bool             `json:"is_headline"`
	RequiresEnrollment bool             `json:"requires_enrollment"`
	Promotional        bool             `json:"is_promotional"`
	Confidence         float64          `json:"confidence"`
}

type modelValue struct {
	Raw      string   `json:"raw_value"`
	Numeric  *float64 `json:"numeric_value"`
	Type     string   `json:"value_type"`
	Currency string   `json:"currency"`
	Unit     string   `json:"unit"`
	Min      *float64 `json:"min_value"`
	Max      *float64 `json:"max_value"`
}

type modelCondition struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Value       string `json:"value"`
	Operator    string `json:"operator"`
	Currency    string `json:"currency"`
	TimeUnit    string `json:"time_unit"`
}

type modelEntity struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Category string `json:"category"`
}

func (n *Normalizer) parseItems(data []byte, key string, req NormalizeRequest, at time.Time) ([]IntelligenceItem, error) {
	var raw []modelItem
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, &OutputError{Raw: string(data)}
		}
	} else {
		var payload modelPayload
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, &OutputError{Raw: string(data)}
		}
		// An object with none of the item keys, or empty lists, means
		// the model found nothing.
		switch {
		case len(payload.Intelligence) > 0:
			raw = payload.Intelligence
		case len(payload.Items) > 0:
			raw = payload.Items
		case len(payload.Benefits) > 0:
			raw = payload.Benefits
		}
	}

	items := make([]IntelligenceItem, 0, len(raw))
	for i, mi := range raw {
		title := collapseSpace(mi.Title)
		if title == "" {
			n.log.Debug("skipping untitled model item", "index", i, "url", req.Source.URL)
			continue
		}

		confidence := mi.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.75
		}
		id := strings.TrimSpace(mi.ID)
		if id == "" {
			// Derive a stable id from the cache key so re-runs over the
			// same content agree on item identity.
			id = shortID(key, strconv.Itoa(i))
		}

		it := IntelligenceItem{
			ID:                 id,
			Title:              truncate(title, 200),
			Description:        strings.TrimSpace(mi.Description),
			Category:           NormalizeCategory(mi.Category),
			Tags:               mi.Tags,
			Value:              liftValue(mi.Value),
			Conditions:         liftConditions(mi.Conditions),
			Entities:           liftEntities(mi.Entities),
			Headline:           mi.Headline,
			RequiresEnrollment: mi.RequiresEnrollment,
			Promotional:        mi.Promotional,
		}
		src := req.Source
		src.Method = "llm"
		src.Confidence = confidence
		src.ExtractedAt = at
		if src.ExtractedText == "" {
			src.ExtractedText = truncate(title, 120)
		}
		it.Sources = []SourceRef{src}
		it.Conditional = len(it.Conditions) > 0
		it.ensureLists()
		it.Confidence = ScoreConfidence(&it)
		items = append(items, it)
	}
	return items, nil
}

func liftValue(mv *modelValue) *ValueSpec {
	if mv == nil {
		return nil
	}
	raw := strings.TrimSpace(mv.Raw)
	if raw == "" && mv.Numeric == nil {
		return nil
	}
	v := &ValueSpec{
		Raw:      raw,
		Numeric:  mv.Numeric,
		Type:     NormalizeValueType(mv.Type),
		Currency: strings.ToUpper(strings.TrimSpace(mv.Currency)),
		Unit:     strings.TrimSpace(mv.Unit),
		Min:      mv.Min,
		Max:      mv.Max,
	}
	if v.Numeric == nil {
		v.Numeric = parseNumeric(raw)
	}
	if mv.Type == "" && raw != "" {
		v.Type = inferValueType(raw)
	}
	return v
}

// inferValueType guesses a value type from the raw phrasing when the
// model leaves value_type blank.
func inferValueType(raw string) ValueType {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "%"):
		return ValuePercentage
	case strings.Contains(lower, "unlimited"), lower == "yes", lower == "true":
		return ValueBoolean
	case matchCurrencyRe.MatchString(lower):
		return ValueFixedAmount
	case strings.Contains(lower, "point"), strings.Contains(lower, "mile"):
		return ValuePoints
	case strings.Contains(lower, "x "), strings.HasSuffix(lower, "x"):
		return ValueMultiplier
	case parseNumeric(lower) != nil:
		return ValueCount
	}
	return ValueText
}

func liftConditions(mcs []modelCondition) []Condition {
	conds := make([]Condition, 0, len(mcs))
	for _, mc := range mcs {
		desc := strings.TrimSpace(mc.Description)
		if desc == "" && strings.TrimSpace(mc.Value) == "" {
			continue
		}
		conds = append(conds, Condition{
			Type:        NormalizeConditionType(mc.Type),
			Description: desc,
			Value:       strings.TrimSpace(mc.Value),
			Operator:    strings.TrimSpace(mc.Operator),
			Currency:    strings.ToUpper(strings.TrimSpace(mc.Currency)),
			TimeUnit:    NormalizeTimeUnit(mc.TimeUnit),
		})
	}
	return conds
}

func liftEntities(mes []modelEntity) []Entity {
	ents := make([]Entity, 0, len(mes))
	for _, me := range mes {
		name := strings.TrimSpace(me.Name)
		if name == "" {
			continue
		}
		typ := strings.ToLower(strings.TrimSpace(me.Type))
		if typ == "" {
			typ = "merchant"
		}
		ents = append(ents, Entity{Name: name, Type: typ, Category: strings.TrimSpace(me.Category)})
	}
	return ents
}
