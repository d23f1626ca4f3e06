package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/receiptocr/receipt-ocr/internal/extraction"
	"github.com/receiptocr/receipt-ocr/internal/reconcile"
	"github.com/receiptocr/receipt-ocr/internal/scanning"
)

// IDGenerator generates unique IDs for receipts and master records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Upload is a receipt image submitted for OCR.
type Upload struct {
	Filename    string
	ContentType string
	ReceiptType string
	Data        []byte
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	rules       reconcile.Config
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage, rules reconcile.Config) *Service {
	return NewServiceWithDeps(db, scanner, storage, rules, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, rules reconcile.Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		rules:       rules,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ProcessReceipt stores the uploaded image, runs OCR on it and validates the
// extracted fields. Accepted receipts are saved. Rejected ones are not: their
// image is removed and the rejections are returned with the normalized fields
// so the user can correct them and resubmit through CreateReceipt.
func (s *Service) ProcessReceipt(ctx context.Context, upload Upload) (*Intake, error) {
	id := s.idGenerator.Generate()
	receiptType := receiptTypeOrDefault(upload.ReceiptType)

	key, err := s.storage.Save(storageName(id, upload.Filename), upload.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	res, err := s.scanner.ScanReceipt(ctx, upload.Data, upload.ContentType, key, receiptType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"receipt_type", receiptType,
			"file_size", len(upload.Data),
			"error", err,
		)
		s.discard(key)
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	raw := make(extraction.RawExtraction, len(res.Fields)+1)
	maps.Copy(raw, res.Fields)
	if _, ok := raw["extracted_text"]; !ok {
		raw["extracted_text"] = res.Text
	}

	intake, err := s.submit(&Receipt{
		ID:          id,
		ReceiptType: receiptType,
		Filename:    key,
		ContentType: upload.ContentType,
	}, raw)
	if err != nil || !intake.Accepted() {
		s.discard(key)
	}
	return intake, err
}

// CreateReceipt validates and stores receipt fields entered or corrected by
// hand. No image is attached.
func (s *Service) CreateReceipt(raw extraction.RawExtraction, receiptType string) (*Intake, error) {
	return s.submit(&Receipt{
		ID:          s.idGenerator.Generate(),
		ReceiptType: receiptTypeOrDefault(receiptType),
	}, raw)
}

// UpdateReceipt applies a partial update. Keys in raw may use any field alias
// and replace the stored value; omitted fields keep theirs. The merged record
// goes through the same normalization and validation as a new receipt.
func (s *Service) UpdateReceipt(id string, raw extraction.RawExtraction) (*Intake, error) {
	existing, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	merged := existing.Fields.Raw()
	maps.Copy(merged, raw.Canonicalize())

	updated := *existing
	return s.submit(&updated, merged)
}

// submit normalizes raw onto r, validates it and saves it when accepted.
func (s *Service) submit(r *Receipt, raw extraction.RawExtraction) (*Intake, error) {
	master, err := s.db.GetMaster()
	if err != nil {
		return nil, fmt.Errorf("getting master record: %w", err)
	}

	outcome := reconcile.Validate(extraction.Normalize(raw), master.Reference(), s.rules.For(r.ReceiptType))
	if !outcome.Accepted() {
		slog.Info("Receipt rejected",
			"id", r.ID,
			"receipt_type", r.ReceiptType,
			"rejections", rejectionList(outcome.Rejections),
		)
		return &Intake{Fields: outcome.Fields, Rejections: outcome.Rejections}, nil
	}

	now := s.timeSource.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Fields = outcome.Fields

	if err := s.db.SaveReceipt(r); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return &Intake{Receipt: r, Fields: r.Fields}, nil
}

func (s *Service) discard(key string) {
	if err := s.storage.Delete(key); err != nil {
		slog.Warn("Failed to delete file", "filename", key, "error", err)
	}
}

func receiptTypeOrDefault(t string) string {
	if t = strings.TrimSpace(t); t == "" {
		return DefaultReceiptType
	}
	return t
}

func rejectionList(rs []reconcile.Rejection) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, "; ")
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and its image
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.Filename != "" {
		s.discard(receipt.Filename)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the image of a receipt and its content type
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("receipt %s has no file: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}

// ListMaster returns the master record as a list of zero or one element.
func (s *Service) ListMaster() ([]*MasterRecord, error) {
	master, err := s.db.GetMaster()
	if err != nil {
		return nil, fmt.Errorf("getting master record: %w", err)
	}
	if master == nil {
		return []*MasterRecord{}, nil
	}
	return []*MasterRecord{master}, nil
}

// GetMaster returns the master record if it has the given ID.
func (s *Service) GetMaster(id string) (*MasterRecord, error) {
	master, err := s.db.GetMaster()
	if err != nil {
		return nil, fmt.Errorf("getting master record: %w", err)
	}
	if master == nil || master.ID != id {
		return nil, fmt.Errorf("master record %s: %w", id, ErrNotFound)
	}
	return master, nil
}

// SaveMaster creates the master record, or replaces the fields of the
// existing one. created reports which happened.
func (s *Service) SaveMaster(in MasterInput) (master *MasterRecord, created bool, err error) {
	master, err = s.db.GetMaster()
	if err != nil {
		return nil, false, fmt.Errorf("getting master record: %w", err)
	}

	now := s.timeSource.Now()
	if master == nil {
		master = &MasterRecord{ID: s.idGenerator.Generate(), CreatedAt: now}
		created = true
	}
	in.apply(master, true)
	master.UpdatedAt = now

	if err := s.db.SaveMaster(master); err != nil {
		return nil, false, fmt.Errorf("saving master record: %w", err)
	}
	return master, created, nil
}

// UpdateMaster changes the provided fields of the master record.
func (s *Service) UpdateMaster(id string, in MasterInput) (*MasterRecord, error) {
	master, err := s.GetMaster(id)
	if err != nil {
		return nil, err
	}

	in.apply(master, false)
	master.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveMaster(master); err != nil {
		return nil, fmt.Errorf("saving master record: %w", err)
	}
	return master, nil
}

// DeleteMaster removes the master record. Receipts are not checked against
// a counter-party again until a new one is saved.
func (s *Service) DeleteMaster(id string) error {
	if err := s.db.DeleteMaster(id); err != nil {
		return fmt.Errorf("deleting master record: %w", err)
	}
	return nil
}

// SeedMaster creates the master record from in unless one already exists.
func (s *Service) SeedMaster(in MasterInput) (bool, error) {
	existing, err := s.db.GetMaster()
	if err != nil {
		return false, fmt.Errorf("getting master record: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	if in == (MasterInput{}) {
		return false, nil
	}

	master, _, err := s.SaveMaster(in)
	if err != nil {
		return false, err
	}
	slog.Info("Seeded master record", "id", master.ID)
	return true, nil
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
