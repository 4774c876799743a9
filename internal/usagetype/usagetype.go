// Package usagetype is the closed taxonomy of billable metric families.
// Every raw event kind maps to exactly one UsageType; unmapped kinds are
// rejected at ingestion so two unrelated metrics can never share a counter.
package usagetype

import (
	"errors"
	"fmt"
	"strings"
)

type UsageType string

const (
	CapacityTokens UsageType = "capacity_tokens"
	APIComplexity  UsageType = "api_complexity"
	BandwidthBytes UsageType = "bandwidth_bytes"
	StreamMinutes  UsageType = "stream_minutes"
)

var ErrUnknownUsageType = errors.New("unknown_usage_type")

type definition struct {
	unit string
	// discrete metrics accumulate as integers; continuous metrics use
	// fixed-point decimal so repeated passes cannot drift.
	discrete bool
}

var definitions = map[UsageType]definition{
	CapacityTokens: {unit: "tokens", discrete: true},
	APIComplexity:  {unit: "complexity_units", discrete: true},
	BandwidthBytes: {unit: "bytes", discrete: true},
	StreamMinutes:  {unit: "minutes", discrete: false},
}

// rawKinds maps event kinds as emitted by collectors onto the taxonomy.
// The mapping is many-to-one; each raw kind belongs to exactly one family.
var rawKinds = map[string]UsageType{
	"capacity_tokens":    CapacityTokens,
	"inference_tokens":   CapacityTokens,
	"api_complexity":     APIComplexity,
	"graphql_complexity": APIComplexity,
	"bandwidth_bytes":    BandwidthBytes,
	"egress_bytes":       BandwidthBytes,
	"stream_minutes":     StreamMinutes,
	"viewer_minutes":     StreamMinutes,
}

// Classify resolves a raw event kind to its metric family. Kinds outside
// the registry fail with ErrUnknownUsageType; they are never coerced.
func Classify(rawKind string) (UsageType, error) {
	kind := strings.ToLower(strings.TrimSpace(rawKind))
	if kind == "" {
		return "", fmt.Errorf("%w: empty kind", ErrUnknownUsageType)
	}
	ut, ok := rawKinds[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownUsageType, kind)
	}
	return ut, nil
}

// IsComparable reports whether two types may be aggregated into one
// summary. Only a type is comparable with itself; the ledger refuses
// cross-type aggregation even when a caller asks for it.
func IsComparable(a, b UsageType) bool {
	if !IsValid(a) || !IsValid(b) {
		return false
	}
	return a == b
}

// IsValid reports whether t belongs to the closed taxonomy.
func IsValid(t UsageType) bool {
	_, ok := definitions[t]
	return ok
}

// Unit returns the canonical unit for the family.
func (t UsageType) Unit() string {
	return definitions[t].unit
}

// Discrete reports whether quantities of this family are whole counts.
func (t UsageType) Discrete() bool {
	return definitions[t].discrete
}

func (t UsageType) String() string { return string(t) }

// All returns every registered type in stable order.
func All() []UsageType {
	return []UsageType{CapacityTokens, APIComplexity, BandwidthBytes, StreamMinutes}
}

// Parse resolves a taxonomy member by name, for query surfaces where the
// caller names the family directly rather than a raw kind.
func Parse(s string) (UsageType, error) {
	t := UsageType(strings.ToLower(strings.TrimSpace(s)))
	if !IsValid(t) {
		return "", fmt.Errorf("%w: %s", ErrUnknownUsageType, s)
	}
	return t, nil
}
