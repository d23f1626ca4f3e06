package extraction

// alias maps a canonical field to the raw keys the receipt templates use for it.
// Keys are tried in order; the first one that normalizes to a present value wins.
type alias struct {
	canonical string
	keys      []string
}

var aliases = []alias{
	{FieldPlateNo, []string{"plateNo", "plate_no"}},
	{FieldGasProvider, []string{"gasProvider", "gas_provider"}},
	{FieldTransactionDate, []string{"transactionDate", "transaction_date", "date"}},
	{FieldTaxInvoiceNo, []string{"taxInvoiceNo", "taxInvNo", "tax_inv_no", "receiptNo", "receipt_no"}},
	{FieldEgatAddress, []string{"egatAddress", "egat_address", "egatAddressTH", "egat_address_th", "egatAddressENG", "egat_address_eng"}},
	{FieldEgatTaxID, []string{"egatTaxId", "egat_tax_id"}},
	{FieldMilestone, []string{"milestone"}},
	{FieldAmount, []string{"amount", "total_amount", "totalAmount"}},
	{FieldLiters, []string{"liters"}},
	{FieldPricePerLiter, []string{"pricePerLiter", "price_per_liter"}},
	{FieldVAT, []string{"VAT", "vat"}},
	{FieldGasType, []string{"gasType", "gas_type"}},
	{FieldOriginal, []string{"original"}},
	{FieldSignature, []string{"signature"}},
	{FieldRawExtractedText, []string{"rawExtractedText", "extracted_text"}},
}

var canonicalByKey = func() map[string]string {
	m := make(map[string]string)
	for _, a := range aliases {
		for _, k := range a.keys {
			m[k] = a.canonical
		}
	}
	return m
}()

// Canonical returns the canonical field name for a raw key.
func Canonical(key string) (string, bool) {
	c, ok := canonicalByKey[key]
	return c, ok
}

// FieldNames returns every canonical field name in table order.
func FieldNames() []string {
	names := make([]string, 0, len(aliases))
	for _, a := range aliases {
		names = append(names, a.canonical)
	}
	return names
}

// IsField reports whether name is a canonical field name.
func IsField(name string) bool {
	for _, a := range aliases {
		if a.canonical == name {
			return true
		}
	}
	return false
}

// lookup returns the values stored under each alias of a canonical field, in
// table order, skipping keys that are not set.
func (raw RawExtraction) lookup(canonical string) []any {
	for _, a := range aliases {
		if a.canonical != canonical {
			continue
		}
		values := make([]any, 0, len(a.keys))
		for _, k := range a.keys {
			if v, ok := raw[k]; ok {
				values = append(values, v)
			}
		}
		return values
	}
	return nil
}

// Canonicalize rekeys raw by canonical field name. Unknown keys are dropped.
// When several aliases of one field are set, the first in alias order wins,
// even if its value is empty: an explicit empty value clears the field.
func (raw RawExtraction) Canonicalize() RawExtraction {
	out := make(RawExtraction)
	for _, a := range aliases {
		for _, k := range a.keys {
			if v, ok := raw[k]; ok {
				out[a.canonical] = v
				break
			}
		}
	}
	return out
}
