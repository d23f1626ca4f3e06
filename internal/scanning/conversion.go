package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// heicBrands are the ftyp brands of HEIC/HEIF files, as written by phone
// cameras.
var heicBrands = map[string]bool{"heic": true, "heif": true, "mif1": true, "msf1": true}

// toPNG returns imageData as PNG, which is what the LLM scanners send. PDFs are
// rendered from their first page. An empty content type is sniffed from the
// data.
func toPNG(imageData []byte, contentType string) ([]byte, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	var (
		img image.Image
		err error
	)
	switch {
	case mimeType == "application/pdf":
		img, err = firstPDFPage(imageData)
	case isHEIC(imageData) || strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif"):
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			err = fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	case mimeType == "image/png":
		return imageData, nil
	default:
		var format string
		img, format, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("unsupported image format (JPEG, PNG, GIF, HEIC, PDF accepted): %w", err)
		}
		if format == "png" {
			return imageData, nil
		}
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// firstPDFPage renders page one; fuel receipts are never longer.
func firstPDFPage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func isHEIC(data []byte) bool {
	return len(data) >= 12 && string(data[4:8]) == "ftyp" && heicBrands[string(data[8:12])]
}
