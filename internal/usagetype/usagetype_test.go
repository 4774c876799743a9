package usagetype

import (
	"errors"
	"testing"
)

func TestClassifyMapsRawKinds(t *testing.T) {
	cases := map[string]UsageType{
		"capacity_tokens":    CapacityTokens,
		"inference_tokens":   CapacityTokens,
		"graphql_complexity": APIComplexity,
		"egress_bytes":       BandwidthBytes,
		"viewer_minutes":     StreamMinutes,
		"  Viewer_Minutes  ": StreamMinutes,
	}

	for raw, want := range cases {
		got, err := Classify(raw)
		if err != nil {
			t.Fatalf("Classify(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("Classify(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestClassifyRejectsUnknownKinds(t *testing.T) {
	for _, raw := range []string{"", "cpu_seconds", "tokens", "minutes"} {
		if _, err := Classify(raw); !errors.Is(err, ErrUnknownUsageType) {
			t.Fatalf("Classify(%q): expected ErrUnknownUsageType, got %v", raw, err)
		}
	}
}

func TestIsComparableOnlyWithSelf(t *testing.T) {
	for _, a := range All() {
		for _, b := range All() {
			want := a == b
			if got := IsComparable(a, b); got != want {
				t.Fatalf("IsComparable(%s, %s) = %v, want %v", a, b, got, want)
			}
		}
	}

	if IsComparable(CapacityTokens, UsageType("cpu_seconds")) {
		t.Fatal("comparable with a type outside the taxonomy")
	}
	if IsComparable(UsageType("bogus"), UsageType("bogus")) {
		t.Fatal("an invalid type must not be comparable with itself")
	}
}

func TestUnitsAndDiscreteness(t *testing.T) {
	if unit := CapacityTokens.Unit(); unit != "tokens" {
		t.Fatalf("unexpected unit %q", unit)
	}
	if !BandwidthBytes.Discrete() {
		t.Fatal("bandwidth bytes must be discrete")
	}
	if StreamMinutes.Discrete() {
		t.Fatal("stream minutes must be continuous")
	}
}

func TestParse(t *testing.T) {
	got, err := Parse(" Stream_Minutes ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != StreamMinutes {
		t.Fatalf("Parse = %s, want %s", got, StreamMinutes)
	}

	if _, err := Parse("viewer_minutes"); !errors.Is(err, ErrUnknownUsageType) {
		t.Fatal("Parse must accept taxonomy names only, not raw kinds")
	}
}
