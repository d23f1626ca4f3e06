package receipt

import (
	"errors"
	"strings"
	"time"

	"github.com/receiptocr/receipt-ocr/internal/extraction"
	"github.com/receiptocr/receipt-ocr/internal/reconcile"
)

var (
	// ErrNotFound is returned when a receipt, master record or stored file
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrProcessing wraps every failure of the OCR collaborator.
	ErrProcessing = errors.New("receipt processing failed")
)

// DefaultReceiptType is used when an upload names no template.
const DefaultReceiptType = "generic"

// Receipt is a persisted fuel receipt. The normalized fields are embedded, so
// they are flattened into both the JSON body and the table columns.
type Receipt struct {
	ID                string `json:"id" gorm:"primaryKey"`
	ReceiptType       string `json:"receiptType"`
	extraction.Fields `gorm:"embedded"`
	Filename          string    `json:"filename,omitempty"`
	ContentType       string    `json:"contentType,omitempty"`
	CreatedAt         time.Time `json:"createdAt" gorm:"autoCreateTime:false"`
	UpdatedAt         time.Time `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

// MasterRecord holds the counter-party identity every receipt is checked
// against. There is at most one.
type MasterRecord struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	EgatAddressTH  *string   `json:"egatAddressTH" gorm:"type:text"`
	EgatAddressENG *string   `json:"egatAddressENG" gorm:"type:text"`
	EgatTaxID      *string   `json:"egatTaxId"`
	CreatedAt      time.Time `json:"createdAt" gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

// Reference converts the record into the validator's view.
func (m *MasterRecord) Reference() *reconcile.Master {
	if m == nil {
		return nil
	}
	ref := &reconcile.Master{}
	if m.EgatTaxID != nil {
		ref.TaxID = strings.TrimSpace(*m.EgatTaxID)
	}
	for _, a := range []*string{m.EgatAddressTH, m.EgatAddressENG} {
		if a != nil && strings.TrimSpace(*a) != "" {
			ref.Addresses = append(ref.Addresses, *a)
		}
	}
	return ref
}

// MasterInput is the writable part of a MasterRecord. Nil fields are not
// provided; blank strings clear the field.
type MasterInput struct {
	EgatAddressTH  *string `json:"egatAddressTH"`
	EgatAddressENG *string `json:"egatAddressENG"`
	EgatTaxID      *string `json:"egatTaxId"`
}

// apply copies the provided fields onto m. With overwrite set, fields that
// were not provided are cleared as well.
func (in MasterInput) apply(m *MasterRecord, overwrite bool) {
	set := func(dst **string, src *string) {
		switch {
		case src != nil:
			*dst = clean(*src)
		case overwrite:
			*dst = nil
		}
	}
	set(&m.EgatAddressTH, in.EgatAddressTH)
	set(&m.EgatAddressENG, in.EgatAddressENG)
	set(&m.EgatTaxID, in.EgatTaxID)
}

func clean(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Intake is the result of submitting receipt fields: either the stored
// receipt, or the rejections together with the normalized fields so the
// caller can correct and resubmit them.
type Intake struct {
	Receipt    *Receipt
	Fields     extraction.Fields
	Rejections []reconcile.Rejection
}

// Accepted reports whether the receipt was stored.
func (i *Intake) Accepted() bool {
	return len(i.Rejections) == 0
}
