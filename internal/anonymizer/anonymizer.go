// Package anonymizer detects and redacts personally identifiable
// content in text before it is stored, logged, or aggregated.
//
// Detection is a single ordered regex pass: each detector replaces its
// matches with a fixed placeholder naming the pattern kind, so
// downstream consumers can still see that a contact method was
// mentioned without learning what it was. Placeholders contain no
// digits, no "@" and no scheme, so no detector can ever match a
// placeholder and running Anonymize on its own output is a no-op.
package anonymizer

import "regexp"

// PatternKind classifies the kind of sensitive data found.
type PatternKind string

// Supported pattern kinds, in detection order.
const (
	KindURL        PatternKind = "url"
	KindEmail      PatternKind = "email"
	KindIPAddress  PatternKind = "ip_address"
	KindCreditCard PatternKind = "credit_card"
	KindNationalID PatternKind = "national_id"
	KindPhone      PatternKind = "phone"
)

// detector pairs a compiled regex with its kind and placeholder.
type detector struct {
	kind        PatternKind
	re          *regexp.Regexp
	placeholder string
}

// Anonymizer holds the ordered set of compiled detectors.
type Anonymizer struct {
	detectors []detector
}

// New creates an Anonymizer with the built-in detector set.
//
// Order matters: URLs are redacted before the emails, IPs and digit
// runs they may contain; long digit runs (cards, national IDs) are
// redacted before the shorter phone pattern can claim a prefix of
// them. A redacted span is a placeholder and therefore excluded from
// every later pass.
func New() *Anonymizer {
	defs := []struct {
		kind        PatternKind
		expr        string
		placeholder string
	}{
		{KindURL, `\bhttps?://[^\s<>"']+`, "[URL_REDACTED]"},
		{KindEmail, `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, "[EMAIL_REDACTED]"},
		{KindIPAddress, `\b(?:\d{1,3}\.){3}\d{1,3}\b`, "[IP_REDACTED]"},
		{KindCreditCard, `\b(?:\d{4}[\-\s]?){3}\d{4}\b`, "[CARD_REDACTED]"},
		{KindNationalID, `\b(?:\d{3}-\d{2}-\d{4}|\d{9})\b`, "[ID_REDACTED]"},
		{KindPhone, `\(?\b\d{3}\)?[\-.\s]?\d{3}[\-.\s]?\d{4}\b`, "[PHONE_REDACTED]"},
	}

	a := &Anonymizer{}
	for _, s := range defs {
		a.detectors = append(a.detectors, detector{
			kind:        s.kind,
			re:          regexp.MustCompile(s.expr),
			placeholder: s.placeholder,
		})
	}
	return a
}

// Anonymize redacts all detected patterns in text. It returns the
// cleaned text and the set of pattern kinds that fired, never the
// matched values. Re-running Anonymize on its own output yields the
// output unchanged.
func (a *Anonymizer) Anonymize(text string) (string, []PatternKind) {
	if text == "" {
		return text, nil
	}

	result := text
	var hits []PatternKind
	for _, d := range a.detectors {
		if !d.re.MatchString(result) {
			continue
		}
		result = d.re.ReplaceAllString(result, d.placeholder)
		hits = append(hits, d.kind)
	}
	return result, hits
}
