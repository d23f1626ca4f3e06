// Package extraction turns raw OCR key/value output into typed receipt fields.
//
// Every function here is total: malformed input never produces an error, it
// produces an absent (nil) value. OCR output is noisy by nature and partial data
// is the common case.
package extraction

import (
	"encoding/json"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// buddhistEraThreshold is the year above which a date is read as Buddhist era.
const buddhistEraThreshold = 2500

// buddhistEraOffset is the difference between Buddhist-era and Gregorian years.
const buddhistEraOffset = 543

const notAvailable = "N/A"

// Decimal magnitudes (digits before the point) outside these bounds overflow a
// float64 or round to zero.
const (
	maxMagnitude = 309
	minMagnitude = -323
)

var datePattern = regexp.MustCompile(`^(\d{1,4})[-/.](\d{1,2})[-/.](\d{1,4})$`)

// Normalize resolves the alias table against raw and converts every field.
func Normalize(raw RawExtraction) Fields {
	return Fields{
		PlateNo:          first(raw.lookup(FieldPlateNo), Text),
		GasProvider:      first(raw.lookup(FieldGasProvider), Text),
		TransactionDate:  first(raw.lookup(FieldTransactionDate), ParseDate),
		TaxInvoiceNo:     first(raw.lookup(FieldTaxInvoiceNo), Text),
		EgatAddress:      first(raw.lookup(FieldEgatAddress), Text),
		EgatTaxID:        first(raw.lookup(FieldEgatTaxID), Text),
		Milestone:        first(raw.lookup(FieldMilestone), Text),
		Amount:           first(raw.lookup(FieldAmount), Number),
		Liters:           first(raw.lookup(FieldLiters), Number),
		PricePerLiter:    first(raw.lookup(FieldPricePerLiter), Number),
		VAT:              first(raw.lookup(FieldVAT), Number),
		GasType:          first(raw.lookup(FieldGasType), Text),
		Original:         first(raw.lookup(FieldOriginal), Boolean),
		Signature:        first(raw.lookup(FieldSignature), Boolean),
		RawExtractedText: firstTranscript(raw.lookup(FieldRawExtractedText)),
	}
}

func first[T any](values []any, convert func(any) *T) *T {
	for _, v := range values {
		if out := convert(v); out != nil {
			return out
		}
	}
	return nil
}

func firstTranscript(values []any) string {
	for _, v := range values {
		if t := Transcript(v); t != "" {
			return t
		}
	}
	return ""
}

// Text trims raw and returns nil for empty values and the "N/A" placeholder.
// Numbers are rendered in plain decimal notation since some templates emit
// odometer readings as numbers.
func Text(raw any) *string {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case *string:
		if v == nil {
			return nil
		}
		s = *v
	case json.Number:
		s = v.String()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case decimal.Decimal:
		s = v.String()
	default:
		return nil
	}

	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, notAvailable) {
		return nil
	}
	return &s
}

// Number converts raw into a non-negative decimal. Strings may carry comma
// grouping separators. Anything that does not parse to a finite, non-negative
// number yields nil.
func Number(raw any) *decimal.Decimal {
	var d decimal.Decimal
	switch v := raw.(type) {
	case decimal.Decimal:
		d = v
	case *decimal.Decimal:
		if v == nil {
			return nil
		}
		d = *v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		d = decimal.NewFromFloat(v)
	case float32:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		d = decimal.NewFromFloat32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case int32:
		d = decimal.NewFromInt32(v)
	case json.Number:
		parsed, ok := parseNumber(v.String())
		if !ok {
			return nil
		}
		d = parsed
	case string:
		parsed, ok := parseNumber(v)
		if !ok {
			return nil
		}
		d = parsed
	case *string:
		if v == nil {
			return nil
		}
		parsed, ok := parseNumber(*v)
		if !ok {
			return nil
		}
		d = parsed
	default:
		return nil
	}

	if d.IsNegative() {
		return nil
	}
	d, ok := finite(d)
	if !ok {
		return nil
	}
	return &d
}

// finite rejects values a float64 cannot hold and flushes values too small for
// one to zero. Exponents are checked before any expansion of the digits.
func finite(d decimal.Decimal) (decimal.Decimal, bool) {
	if d.IsZero() {
		return d, true
	}
	magnitude := len(new(big.Int).Abs(d.Coefficient()).String()) + int(d.Exponent())
	switch {
	case magnitude > maxMagnitude:
		return decimal.Decimal{}, false
	case magnitude < minMagnitude:
		return decimal.Zero, true
	}
	return d, !math.IsInf(d.InexactFloat64(), 0)
}

func parseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	if strings.Contains(s, ",") {
		if !validGrouping(s) {
			return decimal.Decimal{}, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// validGrouping rejects separators that cannot be thousands grouping: doubled,
// leading, trailing, or inside the fraction.
func validGrouping(s string) bool {
	if strings.HasPrefix(s, ",") || strings.HasSuffix(s, ",") || strings.Contains(s, ",,") {
		return false
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 && strings.Contains(s[dot:], ",") {
		return false
	}
	return !strings.Contains(s, ",.")
}

// Date builds a calendar date from its parts. Months must be in 1..12 and days
// in 1..31; the day is not checked against the month length, so 31 February
// rolls over into March. Buddhist-era years are converted to Gregorian.
func Date(day, month, year int) *time.Time {
	return calendarDate(day, month, year, true)
}

func calendarDate(day, month, year int, buddhist bool) *time.Time {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	if buddhist && year > buddhistEraThreshold {
		year -= buddhistEraOffset
	}
	if year < 1 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}

// ParseDate reads dd-mm-yyyy, dd/mm/yyyy, yyyy-mm-dd and RFC 3339 strings as
// well as time.Time values. Only the day-first and yyyy-mm-dd layouts carry
// Buddhist-era years. Time values and RFC 3339 timestamps are taken as
// Gregorian, so normalizing a stored date again leaves it unchanged.
func ParseDate(raw any) *time.Time {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return nil
		}
		return calendarDate(v.Day(), int(v.Month()), v.Year(), false)
	case *time.Time:
		if v == nil {
			return nil
		}
		return ParseDate(*v)
	case string:
		return parseDateString(v)
	case *string:
		if v == nil {
			return nil
		}
		return parseDateString(*v)
	}
	return nil
}

func parseDateString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, notAvailable) {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return calendarDate(t.Day(), int(t.Month()), t.Year(), false)
	}

	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	a, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	c, _ := strconv.Atoi(m[3])

	switch {
	case len(m[1]) == 4:
		return Date(c, month, a)
	case len(m[3]) == 4:
		return Date(a, month, c)
	}
	return nil
}

// Boolean accepts only real booleans. Strings such as "yes" are not coerced.
func Boolean(raw any) *bool {
	switch v := raw.(type) {
	case bool:
		return &v
	case *bool:
		if v == nil {
			return nil
		}
		b := *v
		return &b
	}
	return nil
}

// Transcript strips line breaks from the OCR transcript.
func Transcript(raw any) string {
	s, ok := raw.(string)
	if !ok {
		return ""
	}
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}
