package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONDirect(t *testing.T) {
	in := `{"intelligence": [{"title": "5% cashback"}]}`
	out, ok := ExtractJSON(in)
	if !ok {
		t.Fatalf("expected valid JSON, got failure")
	}
	if out != in {
		t.Errorf("expected passthrough, got %q", out)
	}
}

func TestExtractJSONFenced(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```"},
		{"bare fence", "```\n{\"a\": 1}\n```"},
		{"fence no newline", "```json{\"a\": 1}```"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, ok := ExtractJSON(tc.in)
			if !ok {
				t.Fatalf("ExtractJSON(%q) failed", tc.in)
			}
			var v map[string]int
			if err := json.Unmarshal([]byte(out), &v); err != nil {
				t.Fatalf("output not parseable: %v", err)
			}
			if v["a"] != 1 {
				t.Errorf("expected a=1, got %v", v)
			}
		})
	}
}

func TestExtractJSONPreamble(t *testing.T) {
	cases := []string{
		`Here is the JSON: {"a": 1}`,
		`JSON: {"a": 1}`,
		`Output: {"a": 1}`,
		`Sure, here you go.

{"a": 1}

Let me know if you need anything else.`,
	}
	for _, in := range cases {
		out, ok := ExtractJSON(in)
		if !ok {
			t.Fatalf("ExtractJSON(%q) failed", in)
		}
		var v map[string]int
		if err := json.Unmarshal([]byte(out), &v); err != nil {
			t.Fatalf("output %q not parseable: %v", out, err)
		}
		if v["a"] != 1 {
			t.Errorf("input %q: expected a=1, got %v", in, v)
		}
	}
}

func TestExtractJSONTrailingComma(t *testing.T) {
	out, ok := ExtractJSON(`{"items": [{"a": 1}, {"b": 2},]}`)
	if !ok {
		t.Fatalf("trailing comma not repaired")
	}
	if !json.Valid([]byte(out)) {
		t.Errorf("repaired output still invalid: %q", out)
	}
}

func TestExtractJSONTruncated(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"mid string", `{"intelligence": [{"title": "Lounge access", "desc`},
		{"mid object", `{"items": [{"a": 1}, {"b": 2`},
		{"after comma", `{"items": [{"a": 1},`},
		{"after colon", `{"items": [{"a":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, ok := ExtractJSON(tc.in)
			if !ok {
				t.Fatalf("ExtractJSON(%q) not repaired", tc.in)
			}
			if !json.Valid([]byte(out)) {
				t.Errorf("repaired output invalid: %q", out)
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	out, ok := ExtractJSON(`The benefits are: [{"title": "Golf"}, {"title": "Lounge"}]`)
	if !ok {
		t.Fatalf("array extraction failed")
	}
	var v []map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output not a JSON array: %v", err)
	}
	if len(v) != 2 {
		t.Errorf("expected 2 elements, got %d", len(v))
	}
}

func TestExtractJSONGarbage(t *testing.T) {
	for _, in := range []string{"", "no json here", "I could not find any benefits in the text."} {
		if out, ok := ExtractJSON(in); ok {
			t.Errorf("ExtractJSON(%q) = %q, expected failure", in, out)
		}
	}
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	out, ok := ExtractJSON(`{"a": "text with { brace", "b`)
	if !ok {
		t.Fatalf("brace-in-string case not repaired")
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output not parseable: %v", err)
	}
	if v["a"] != "text with { brace" {
		t.Errorf("string value mangled: %q", v["a"])
	}
}
