package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/receiptocr/receipt-ocr/internal/extraction"
	"github.com/receiptocr/receipt-ocr/internal/reconcile"
)

// maxUploadSize allows for high-resolution phone photos.
const maxUploadSize = 50 << 20

const maxJSONSize = 1 << 20

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeBodyError answers a JSON body that could not be decoded.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body is too large.")
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid request body")
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, ErrProcessing):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type rejectionResponse struct {
	Error      string                `json:"error"`
	Rejections []reconcile.Rejection `json:"rejections"`
	Fields     extraction.Fields     `json:"fields"`
	Transcript string                `json:"transcript"`
}

// writeIntake answers with the stored receipt, or 422 with the rejections.
func writeIntake(w http.ResponseWriter, intake *Intake, code int) {
	if !intake.Accepted() {
		writeJSON(w, http.StatusUnprocessableEntity, rejectionResponse{
			Error:      "validation failed",
			Rejections: intake.Rejections,
			Fields:     intake.Fields,
			Transcript: intake.Fields.RawExtractedText,
		})
		return
	}
	writeJSON(w, code, intake.Receipt)
}

// decodeFields reads a JSON object of receipt fields. Numbers are kept as
// json.Number.
func decodeFields(w http.ResponseWriter, r *http.Request) (extraction.RawExtraction, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONSize))
	dec.UseNumber()
	var raw extraction.RawExtraction
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return raw, nil
}

// handleProcessImage runs OCR on an uploaded receipt image
func (s *Server) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("receipt_image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Uploaded file is empty.")
		return
	}

	upload := Upload{
		Filename:    header.Filename,
		ContentType: contentType(header.Header.Get("Content-Type"), header.Filename, data),
		ReceiptType: r.FormValue("receipt_type"),
		Data:        data,
	}
	slog.Info("Received receipt image", "filename", upload.Filename, "receipt_type", upload.ReceiptType, "size", len(data))

	intake, err := s.service.ProcessReceipt(r.Context(), upload)
	if err != nil {
		writeServiceError(w, err, "Receipt not found")
		return
	}
	writeIntake(w, intake, http.StatusCreated)
}

// contentType resolves the MIME type of an upload from its header, its
// extension or, failing both, its first bytes.
func contentType(header, filename string, data []byte) string {
	ct := strings.ToLower(strings.TrimSpace(header))
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return strings.SplitN(http.DetectContentType(data), ";", 2)[0]
}

// handleCreateReceipt stores receipt fields submitted as JSON
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeFields(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	receiptType, _ := raw["receiptType"].(string)
	if receiptType == "" {
		receiptType, _ = raw["receipt_type"].(string)
	}

	intake, err := s.service.CreateReceipt(raw, receiptType)
	if err != nil {
		writeServiceError(w, err, "Receipt not found")
		return
	}
	writeIntake(w, intake, http.StatusCreated)
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		writeServiceError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Receipt not found.")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleUpdateReceipt applies a partial update to a receipt
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeFields(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	intake, err := s.service.UpdateReceipt(r.PathValue("id"), raw)
	if err != nil {
		writeServiceError(w, err, "Receipt not found.")
		return
	}
	writeIntake(w, intake, http.StatusOK)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "Receipt not found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Receipt deleted successfully."})
}

// handleGetReceiptFile returns the image of a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, ct, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "File not found")
		return
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Write(data)
}

// handleExportReceipts downloads all receipts as an Excel workbook
func (s *Server) handleExportReceipts(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportReceipts(&buf); err != nil {
		writeServiceError(w, err, "")
		return
	}

	filename := fmt.Sprintf("receipts_%s.xlsx", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Write(buf.Bytes())
}

func decodeMaster(w http.ResponseWriter, r *http.Request) (MasterInput, error) {
	var in MasterInput
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONSize)).Decode(&in)
	return in, err
}

// handleListMaster returns the master record as a list of zero or one
func (s *Server) handleListMaster(w http.ResponseWriter, r *http.Request) {
	masters, err := s.service.ListMaster()
	if err != nil {
		writeServiceError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, masters)
}

// handleSaveMaster creates the master record or updates the existing one
func (s *Server) handleSaveMaster(w http.ResponseWriter, r *http.Request) {
	in, err := decodeMaster(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	master, created, err := s.service.SaveMaster(in)
	if err != nil {
		writeServiceError(w, err, "")
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, master)
}

// handleGetMaster returns the master record by ID
func (s *Server) handleGetMaster(w http.ResponseWriter, r *http.Request) {
	master, err := s.service.GetMaster(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Master data not found.")
		return
	}
	writeJSON(w, http.StatusOK, master)
}

// handleUpdateMaster changes the provided fields of the master record
func (s *Server) handleUpdateMaster(w http.ResponseWriter, r *http.Request) {
	in, err := decodeMaster(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	master, err := s.service.UpdateMaster(r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, err, "Master data not found.")
		return
	}
	writeJSON(w, http.StatusOK, master)
}

// handleDeleteMaster deletes the master record
func (s *Server) handleDeleteMaster(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteMaster(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "Master data not found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Master data deleted successfully."})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
