package attribution

import (
	"net/url"
	"strings"
	"time"

	"github.com/northmeter/ledger/internal/attribution/domain"
)

// maxFieldLen bounds every stored attribution field. Inputs come from
// unauthenticated clients and may be arbitrarily long.
const maxFieldLen = 512

// CaptureRequest carries the raw acquisition context observed at first
// contact. Field values win over query parameters when both are present,
// matching what browsers actually send through the signup form.
type CaptureRequest struct {
	ReferrerURL   string
	LandingURL    string
	SignupChannel string
	SignupMethod  string
	UTMSource     string
	UTMMedium     string
	UTMCampaign   string
	UTMContent    string
	UTMTerm       string
	ReferralCode  string
	// Query is the landing request's query string, consulted for any UTM
	// parameter the body left empty.
	Query url.Values
}

// Capture sanitizes acquisition context into an attribution record. It is
// a pure transform: no persistence happens here. Returns nil when the
// request carries no attribution signal at all, which callers must treat
// as "organic", not as an error.
func Capture(req CaptureRequest, now time.Time) *domain.TenantAttribution {
	utmSource := firstNonEmpty(req.UTMSource, req.Query.Get("utm_source"))
	utmMedium := firstNonEmpty(req.UTMMedium, req.Query.Get("utm_medium"))
	utmCampaign := firstNonEmpty(req.UTMCampaign, req.Query.Get("utm_campaign"))
	utmContent := firstNonEmpty(req.UTMContent, req.Query.Get("utm_content"))
	utmTerm := firstNonEmpty(req.UTMTerm, req.Query.Get("utm_term"))
	referralCode := firstNonEmpty(req.ReferralCode, req.Query.Get("referral_code"), req.Query.Get("ref"))

	referrer := SanitizeURL(req.ReferrerURL)
	landing := SanitizeURL(req.LandingURL)

	hasSignal := utmSource != "" || utmMedium != "" || utmCampaign != "" ||
		utmContent != "" || utmTerm != "" || referralCode != "" || referrer != ""
	if !hasSignal {
		return nil
	}

	return &domain.TenantAttribution{
		UTMSource:     optional(utmSource),
		UTMMedium:     optional(utmMedium),
		UTMCampaign:   optional(utmCampaign),
		UTMContent:    optional(utmContent),
		UTMTerm:       optional(utmTerm),
		ReferralCode:  optional(referralCode),
		SignupChannel: clamp(strings.TrimSpace(req.SignupChannel)),
		SignupMethod:  clamp(strings.TrimSpace(req.SignupMethod)),
		LandingPage:   landing,
		Referrer:      referrer,
		CapturedAt:    now.UTC(),
	}
}

// SanitizeURL strips the query string, fragment and userinfo from a raw
// URL before it can be persisted. Unparseable input is dropped entirely
// rather than stored raw.
func SanitizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if len(raw) > maxFieldLen*4 {
		raw = raw[:maxFieldLen*4]
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.User = nil

	return clamp(parsed.String())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return clamp(v)
		}
	}
	return ""
}

func clamp(v string) string {
	if len(v) > maxFieldLen {
		return v[:maxFieldLen]
	}
	return v
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
