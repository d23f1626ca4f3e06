// Package reconcile decides whether normalized receipt fields may be persisted.
//
// Completeness is checked first, then the counter-party identity is compared
// against the master record. Failures are returned as values with one reason
// per field, never as errors.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/receiptocr/receipt-ocr/internal/extraction"
)

// Rejection reasons.
const (
	ReasonRequired        = "is required"
	ReasonTaxIDMismatch   = "tax id mismatch"
	ReasonAddressMismatch = "address similarity below threshold"
)

// Master is the reference identity receipts are checked against.
type Master struct {
	TaxID     string
	Addresses []string
}

// Rejection names a field and why it was refused.
type Rejection struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Field, r.Reason)
}

// Outcome is the result of Validate. The record is accepted when there are no
// rejections.
type Outcome struct {
	Fields     extraction.Fields
	Rejections []Rejection
}

// Accepted reports whether the record passed validation.
func (o Outcome) Accepted() bool {
	return len(o.Rejections) == 0
}

// MissingFields returns the required names whose value is absent, blank or the
// "N/A" placeholder, in the order given.
func MissingFields(fields extraction.Fields, required []string) []string {
	var missing []string
	for _, name := range required {
		v, ok := fields.Value(name)
		if !ok || blank(v) {
			missing = append(missing, name)
		}
	}
	return missing
}

func blank(v any) bool {
	s := strings.TrimSpace(fmt.Sprint(v))
	return s == "" || strings.EqualFold(s, "N/A")
}

// TaxIDMatches reports whether the record's tax id equals the master's. The
// check passes when there is no master. A master without a tax id matches
// nothing.
func TaxIDMatches(fields extraction.Fields, master *Master) bool {
	if master == nil {
		return true
	}
	return master.TaxID != "" && fields.EgatTaxID != nil && *fields.EgatTaxID == master.TaxID
}

// AddressScore returns the best Similarity between the record's address and
// any of the master's addresses.
func AddressScore(fields extraction.Fields, master *Master) float64 {
	if master == nil || fields.EgatAddress == nil {
		return 0
	}
	var best float64
	for _, addr := range master.Addresses {
		if s := Similarity(addr, *fields.EgatAddress); s > best {
			best = s
		}
	}
	return best
}

// Similarity aligns a and b from the start and returns the share of positions
// holding the same character, relative to the longer string. Both sides are
// trimmed and lowercased; no other normalization is applied. This is not an
// edit distance.
func Similarity(a, b string) float64 {
	ra := []rune(strings.ToLower(strings.TrimSpace(a)))
	rb := []rune(strings.ToLower(strings.TrimSpace(b)))
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	longer, shorter := ra, rb
	if len(rb) > len(ra) {
		longer, shorter = rb, ra
	}
	same := 0
	for i, r := range shorter {
		if longer[i] == r {
			same++
		}
	}
	return float64(same) / float64(len(longer))
}

// Validate runs the required-field check and, when a master exists, the tax id
// and address checks. Missing fields short-circuit the identity checks.
func Validate(fields extraction.Fields, master *Master, rules Rules) Outcome {
	out := Outcome{Fields: fields}

	if missing := MissingFields(fields, rules.Required); len(missing) > 0 {
		for _, name := range missing {
			out.Rejections = append(out.Rejections, Rejection{Field: name, Reason: ReasonRequired})
		}
		return out
	}
	if master == nil {
		return out
	}

	if !TaxIDMatches(fields, master) {
		out.Rejections = append(out.Rejections, Rejection{Field: extraction.FieldEgatTaxID, Reason: ReasonTaxIDMismatch})
	}
	if hasAddress(master) && AddressScore(fields, master) < rules.AddressThreshold {
		out.Rejections = append(out.Rejections, Rejection{Field: extraction.FieldEgatAddress, Reason: ReasonAddressMismatch})
	}
	return out
}

func hasAddress(m *Master) bool {
	for _, a := range m.Addresses {
		if strings.TrimSpace(a) != "" {
			return true
		}
	}
	return false
}
