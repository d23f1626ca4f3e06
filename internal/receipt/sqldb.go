package receipt

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLDB implements the DB interface on a relational database through gorm.
type SQLDB struct {
	db *gorm.DB
}

// NewSQLiteDB opens (and migrates) a SQLite database file.
func NewSQLiteDB(path string) (*SQLDB, error) {
	return openSQL(sqlite.Open(path))
}

// NewPostgresDB connects to (and migrates) a PostgreSQL database.
func NewPostgresDB(dsn string) (*SQLDB, error) {
	return openSQL(postgres.Open(dsn))
}

func openSQL(dialector gorm.Dialector) (*SQLDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(slogWriter{}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", dialector.Name(), err)
	}
	if err := db.AutoMigrate(&Receipt{}, &MasterRecord{}); err != nil {
		return nil, fmt.Errorf("migrating %s database: %w", dialector.Name(), err)
	}
	return &SQLDB{db: db}, nil
}

// slogWriter routes gorm's logger through slog.
type slogWriter struct{}

func (slogWriter) Printf(format string, args ...any) {
	slog.Warn(fmt.Sprintf(format, args...), "component", "gorm")
}

// SaveReceipt creates or replaces a receipt
func (s *SQLDB) SaveReceipt(receipt *Receipt) error {
	if err := s.db.Save(receipt).Error; err != nil {
		return fmt.Errorf("saving receipt %s: %w", receipt.ID, err)
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (s *SQLDB) GetReceipt(id string) (*Receipt, error) {
	var receipt Receipt
	if err := s.db.First(&receipt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting receipt %s: %w", id, err)
	}
	return &receipt, nil
}

// ListReceipts returns all receipts, newest first
func (s *SQLDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	if err := s.db.Order("created_at desc").Find(&receipts).Error; err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (s *SQLDB) DeleteReceipt(id string) error {
	res := s.db.Delete(&Receipt{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting receipt %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetMaster returns the oldest master record, or nil when none exists
func (s *SQLDB) GetMaster() (*MasterRecord, error) {
	var masters []*MasterRecord
	if err := s.db.Order("created_at").Limit(1).Find(&masters).Error; err != nil {
		return nil, fmt.Errorf("reading master record: %w", err)
	}
	if len(masters) == 0 {
		return nil, nil
	}
	return masters[0], nil
}

// SaveMaster creates or replaces the master record
func (s *SQLDB) SaveMaster(master *MasterRecord) error {
	if err := s.db.Save(master).Error; err != nil {
		return fmt.Errorf("saving master record: %w", err)
	}
	return nil
}

// DeleteMaster removes the master record with the given ID
func (s *SQLDB) DeleteMaster(id string) error {
	res := s.db.Delete(&MasterRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting master record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("master record %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the underlying connection pool
func (s *SQLDB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
