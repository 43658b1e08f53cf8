package extractor

import (
	"encoding/json"
	"testing"
)

func TestParseToolResponse_Valid(t *testing.T) {
	raw := json.RawMessage(`{"topics":[{"topic":"Donauinselfest","score":0.8,"count":5}]}`)
	topics, err := ParseToolResponse(raw)
	if err != nil {
		t.Fatalf("ParseToolResponse: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("expected 1 topic, got %d", len(topics))
	}
	if topics[0].Topic != "Donauinselfest" || topics[0].Score != 0.8 || topics[0].Count != 5 {
		t.Errorf("unexpected topic: %+v", topics[0])
	}
}

func TestParseToolResponse_MissingTopicsKeyIsError(t *testing.T) {
	raw := json.RawMessage(`{}`)
	if _, err := ParseToolResponse(raw); err == nil {
		t.Fatal("expected error for missing topics key (strict at top level)")
	}
}

func TestParseToolResponse_MalformedJSONIsError(t *testing.T) {
	raw := json.RawMessage(`not json`)
	if _, err := ParseToolResponse(raw); err == nil {
		t.Fatal("expected error for malformed top-level json")
	}
}

func TestParseToolResponse_SkipsInvalidRowsLeniently(t *testing.T) {
	raw := json.RawMessage(`{"topics":[
		{"topic":"Good","score":0.5,"count":1},
		{"topic":"","score":0.5,"count":1},
		{"topic":"NoScore","count":1},
		"not an object",
		{"topic":"AlsoGood","score":0.3,"count":2}
	]}`)
	topics, err := ParseToolResponse(raw)
	if err != nil {
		t.Fatalf("ParseToolResponse: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 surviving topics, got %d: %+v", len(topics), topics)
	}
}

func TestParseToolResponse_ClampsScore(t *testing.T) {
	raw := json.RawMessage(`{"topics":[{"topic":"TooHigh","score":5.0,"count":1},{"topic":"TooLow","score":-3.0,"count":1}]}`)
	topics, err := ParseToolResponse(raw)
	if err != nil {
		t.Fatalf("ParseToolResponse: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0].Score != 1.0 {
		t.Errorf("expected score clamped to 1.0, got %v", topics[0].Score)
	}
	if topics[1].Score != 0.0 {
		t.Errorf("expected score clamped to 0.0, got %v", topics[1].Score)
	}
}

func TestParseToolResponse_CoercesStringNumbers(t *testing.T) {
	raw := json.RawMessage(`{"topics":[{"topic":"StringNumbers","score":"0.42","count":"7"}]}`)
	topics, err := ParseToolResponse(raw)
	if err != nil {
		t.Fatalf("ParseToolResponse: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("expected 1 topic, got %d", len(topics))
	}
	if topics[0].Score != 0.42 || topics[0].Count != 7 {
		t.Errorf("unexpected coerced topic: %+v", topics[0])
	}
}

func TestParseToolResponse_NegativeCountClampedToZero(t *testing.T) {
	raw := json.RawMessage(`{"topics":[{"topic":"NegCount","score":0.5,"count":-4}]}`)
	topics, err := ParseToolResponse(raw)
	if err != nil {
		t.Fatalf("ParseToolResponse: %v", err)
	}
	if topics[0].Count != 0 {
		t.Errorf("expected negative count clamped to 0, got %d", topics[0].Count)
	}
}

func TestParseToolResponse_EmptyTopicsListIsValid(t *testing.T) {
	raw := json.RawMessage(`{"topics":[]}`)
	topics, err := ParseToolResponse(raw)
	if err != nil {
		t.Fatalf("ParseToolResponse: %v", err)
	}
	if len(topics) != 0 {
		t.Errorf("expected no topics, got %d", len(topics))
	}
}
