package scanning

import (
	"context"
	"errors"

	"github.com/receiptocr/receipt-ocr/internal/extraction"
)

// ErrTimeout is returned when the OCR collaborator does not answer in time.
var ErrTimeout = errors.New("ocr timed out")

// Result is what an OCR run hands back: the extracted key/value fields and the
// full transcript.
type Result struct {
	Fields extraction.RawExtraction
	Text   string
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt runs OCR on a receipt image. filename names the image for
	// the OCR collaborator and may be empty. template selects the receipt
	// layout (e.g. "PTT-Kbank") and may be empty.
	ScanReceipt(ctx context.Context, imageData []byte, contentType, filename, template string) (*Result, error)
	// Close closes the scanner and releases resources
	Close() error
}

// receiptScanPrompt is the shared prompt used by the LLM scanners.
const receiptScanPrompt = `You are reading a photographed Thai fuel-station tax invoice. The buyer is the Electricity Generating Authority of Thailand (EGAT).

First transcribe all text on the receipt, top to bottom. Then extract these fields from it:

- plateNo: vehicle licence plate
- gasProvider: fuel brand (e.g. PTT, Bangchak, Shell)
- transactionDate: date of the transaction as DD-MM-YYYY, keep the year exactly as printed (Buddhist era years such as 2568 are fine)
- taxInvNo: tax invoice number
- egatAddress: the buyer address block as printed
- egatTaxId: the buyer's 13 digit tax id
- milestone: odometer reading
- amount: total amount paid
- liters: volume of fuel
- pricePerLiter: unit price
- VAT: value added tax amount
- gasType: fuel product name (e.g. Diesel, Gasohol 95)
- original: true if the document is marked as the original, false if it is a copy
- signature: true if the receipt carries a signature

Return ONLY valid JSON in this exact format:
{
  "extracted_text": "full transcript",
  "parsed_data": {
    "plateNo": "...",
    "gasProvider": "...",
    "transactionDate": "DD-MM-YYYY",
    "taxInvNo": "...",
    "egatAddress": "...",
    "egatTaxId": "...",
    "milestone": "...",
    "amount": "0.00",
    "liters": "0.000",
    "pricePerLiter": "0.00",
    "VAT": "0.00",
    "gasType": "...",
    "original": true,
    "signature": true
  }
}

Important:
- Copy numbers exactly as printed, including thousands separators
- If you cannot find a field, use "N/A" for text and null for original and signature
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
