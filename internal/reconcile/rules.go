package reconcile

import (
	"fmt"
	"strings"

	"github.com/receiptocr/receipt-ocr/internal/extraction"
)

// DefaultAddressThreshold is the minimum address similarity accepted when no
// other value is configured.
const DefaultAddressThreshold = 0.8

// DefaultRequired is the mandatory-field set of the full fuel receipt form.
var DefaultRequired = []string{
	extraction.FieldPlateNo,
	extraction.FieldGasProvider,
	extraction.FieldTransactionDate,
	extraction.FieldTaxInvoiceNo,
	extraction.FieldEgatAddress,
	extraction.FieldEgatTaxID,
	extraction.FieldMilestone,
	extraction.FieldAmount,
	extraction.FieldLiters,
	extraction.FieldPricePerLiter,
	extraction.FieldVAT,
	extraction.FieldGasType,
	extraction.FieldOriginal,
	extraction.FieldSignature,
}

// Rules is the validation configuration for one receipt template.
type Rules struct {
	Required         []string
	AddressThreshold float64
}

// Validate checks that every required name is a known field and that the
// threshold is a valid similarity score.
func (r Rules) Validate() error {
	for _, name := range r.Required {
		if !extraction.IsField(name) {
			return fmt.Errorf("unknown required field %q", name)
		}
	}
	if r.AddressThreshold < 0 || r.AddressThreshold > 1 {
		return fmt.Errorf("address threshold %v outside [0,1]", r.AddressThreshold)
	}
	return nil
}

// Config holds the default rules and per-template overrides.
type Config struct {
	Default   Rules
	Templates map[string]Rules
}

// For returns the rules for a receipt template, falling back to the default.
func (c Config) For(template string) Rules {
	if r, ok := c.Templates[template]; ok {
		return r
	}
	return c.Default
}

// Validate validates the default and every template.
func (c Config) Validate() error {
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("default rules: %w", err)
	}
	for name, r := range c.Templates {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("template %s: %w", name, err)
		}
	}
	return nil
}

// ParseFields splits a comma-separated list of field names. Blank entries are
// skipped; an empty list yields nil.
func ParseFields(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// ParseTemplates reads per-template required fields written as
// "PTT-Kbank=amount,liters;A5=amount". Every template gets threshold.
func ParseTemplates(s string, threshold float64) (map[string]Rules, error) {
	templates := make(map[string]Rules)
	for _, entry := range strings.Split(s, ";") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		name, fields, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("template rule %q: expected name=field,field", entry)
		}
		if _, dup := templates[name]; dup {
			return nil, fmt.Errorf("template %s configured twice", name)
		}
		templates[name] = Rules{Required: ParseFields(fields), AddressThreshold: threshold}
	}
	return templates, nil
}
