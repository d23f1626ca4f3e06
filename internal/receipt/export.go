package receipt

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Receipts"

var exportHeaders = []string{
	"No", "Transaction date", "Receipt type", "Plate no", "Gas provider", "Tax invoice no",
	"Gas type", "Liters", "Price per liter", "VAT", "Amount", "Milestone",
	"EGAT tax id", "Original", "Signature", "Created at",
}

// ExportReceipts writes every receipt as an xlsx workbook, newest first.
func (s *Service) ExportReceipts(w io.Writer) error {
	receipts, err := s.ListReceipts()
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, h)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#1F4E79"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(exportHeaders), 1)
	f.SetCellStyle(exportSheet, "A1", lastHeader, headerStyle)

	for i, r := range receipts {
		row := []any{
			i + 1,
			dateCell(r),
			r.ReceiptType,
			textCell(r.PlateNo),
			textCell(r.GasProvider),
			textCell(r.TaxInvoiceNo),
			textCell(r.GasType),
			numberCell(r.Liters),
			numberCell(r.PricePerLiter),
			numberCell(r.VAT),
			numberCell(r.Amount),
			textCell(r.Milestone),
			textCell(r.EgatTaxID),
			boolCell(r.Original),
			boolCell(r.Signature),
			r.CreatedAt.Format("02-01-2006 15:04"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	f.SetColWidth(exportSheet, "A", "A", 5)
	f.SetColWidth(exportSheet, "B", "G", 16)
	f.SetColWidth(exportSheet, "H", "K", 12)
	f.SetColWidth(exportSheet, "L", "P", 16)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func dateCell(r *Receipt) any {
	if r.TransactionDate == nil {
		return ""
	}
	return r.TransactionDate.Format("02-01-2006")
}

func textCell(s *string) any {
	if s == nil {
		return ""
	}
	return *s
}

func numberCell(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

func boolCell(b *bool) any {
	switch {
	case b == nil:
		return ""
	case *b:
		return "yes"
	default:
		return "no"
	}
}
