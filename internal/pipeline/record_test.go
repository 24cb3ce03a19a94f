package pipeline

import (
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	line := []byte(`{"data":{"id":42,"state":"Successful","static_usd_rate":1.25,"category":{"slug":"games/tabletop"},"creator":{"id":9}}}`)
	env, payload, err := ParseEnvelope(line)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(env.Data) == 0 {
		t.Fatalf("expected the raw payload to be retained")
	}
	if payload.ID != 42 || payload.Category.Slug != "games/tabletop" || payload.Creator.ID != 9 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.NormalizedState() != "successful" {
		t.Fatalf("unexpected normalized state: %q", payload.NormalizedState())
	}
	if payload.USDRate() != 1.25 {
		t.Fatalf("unexpected usd rate: %v", payload.USDRate())
	}
}

func TestParseEnvelope_MissingData(t *testing.T) {
	t.Parallel()

	env, payload, err := ParseEnvelope([]byte(`{"meta":"only"}`))
	if err != nil {
		t.Fatalf("a line without data should still parse: %v", err)
	}
	if len(env.Data) != 0 || payload.ID != 0 {
		t.Fatalf("expected a zero payload, got %+v", payload)
	}
}

func TestParseEnvelope_Malformed(t *testing.T) {
	t.Parallel()

	if _, _, err := ParseEnvelope([]byte(`{"data":`)); err == nil {
		t.Fatalf("expected an error for truncated JSON")
	}
	if _, _, err := ParseEnvelope([]byte(`{"data":{"id":"not a number"}}`)); err == nil {
		t.Fatalf("expected an error for a mistyped payload")
	}
}

func TestUSDRate_DefaultsToOne(t *testing.T) {
	t.Parallel()

	var payload Payload
	if payload.USDRate() != 1 {
		t.Fatalf("expected the rate to default to 1, got %v", payload.USDRate())
	}

	zero := 0.0
	payload.StaticUSDRate = &zero
	if payload.USDRate() != 0 {
		t.Fatalf("an explicit zero rate should be kept, got %v", payload.USDRate())
	}
}

func TestNormalizedState(t *testing.T) {
	t.Parallel()

	payload := Payload{State: "  Canceled "}
	if payload.NormalizedState() != "canceled" {
		t.Fatalf("unexpected state: %q", payload.NormalizedState())
	}
}
