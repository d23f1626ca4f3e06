package extraction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical field names. These are the keys used in JSON bodies, in required-field
// configuration and in rejection reasons.
const (
	FieldPlateNo          = "plateNo"
	FieldGasProvider      = "gasProvider"
	FieldTransactionDate  = "transactionDate"
	FieldTaxInvoiceNo     = "taxInvoiceNo"
	FieldEgatAddress      = "egatAddress"
	FieldEgatTaxID        = "egatTaxId"
	FieldMilestone        = "milestone"
	FieldAmount           = "amount"
	FieldLiters           = "liters"
	FieldPricePerLiter    = "pricePerLiter"
	FieldVAT              = "VAT"
	FieldGasType          = "gasType"
	FieldOriginal         = "original"
	FieldSignature        = "signature"
	FieldRawExtractedText = "rawExtractedText"
)

// RawExtraction is the untyped key/value output of an OCR run.
type RawExtraction map[string]any

// Fields is the typed, normalized view of a receipt. A nil pointer means the
// value is absent.
type Fields struct {
	PlateNo          *string          `json:"plateNo"`
	GasProvider      *string          `json:"gasProvider"`
	TransactionDate  *time.Time       `json:"transactionDate"`
	TaxInvoiceNo     *string          `json:"taxInvoiceNo"`
	EgatAddress      *string          `json:"egatAddress" gorm:"type:text"`
	EgatTaxID        *string          `json:"egatTaxId"`
	Milestone        *string          `json:"milestone"`
	Amount           *decimal.Decimal `json:"amount" gorm:"type:numeric"`
	Liters           *decimal.Decimal `json:"liters" gorm:"type:numeric"`
	PricePerLiter    *decimal.Decimal `json:"pricePerLiter" gorm:"type:numeric"`
	VAT              *decimal.Decimal `json:"VAT" gorm:"column:vat;type:numeric"`
	GasType          *string          `json:"gasType"`
	Original         *bool            `json:"original"`
	Signature        *bool            `json:"signature"`
	RawExtractedText string           `json:"rawExtractedText" gorm:"type:text"`
}

// Value returns the value of a canonical field and whether it is present.
// Unknown names report false.
func (f Fields) Value(name string) (any, bool) {
	switch name {
	case FieldPlateNo:
		return present(f.PlateNo)
	case FieldGasProvider:
		return present(f.GasProvider)
	case FieldTransactionDate:
		return present(f.TransactionDate)
	case FieldTaxInvoiceNo:
		return present(f.TaxInvoiceNo)
	case FieldEgatAddress:
		return present(f.EgatAddress)
	case FieldEgatTaxID:
		return present(f.EgatTaxID)
	case FieldMilestone:
		return present(f.Milestone)
	case FieldAmount:
		return present(f.Amount)
	case FieldLiters:
		return present(f.Liters)
	case FieldPricePerLiter:
		return present(f.PricePerLiter)
	case FieldVAT:
		return present(f.VAT)
	case FieldGasType:
		return present(f.GasType)
	case FieldOriginal:
		return present(f.Original)
	case FieldSignature:
		return present(f.Signature)
	case FieldRawExtractedText:
		return f.RawExtractedText, f.RawExtractedText != ""
	}
	return nil, false
}

// Raw returns the canonical, already-typed view of the fields. Absent values
// are nil. Normalize(f.Raw()) yields f again.
func (f Fields) Raw() RawExtraction {
	raw := make(RawExtraction, len(aliases))
	for _, a := range aliases {
		v, ok := f.Value(a.canonical)
		if !ok {
			v = nil
		}
		raw[a.canonical] = v
	}
	return raw
}

func present[T any](p *T) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}
