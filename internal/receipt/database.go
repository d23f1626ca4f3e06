package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptBucket = "receipts"
	masterBucket  = "master"
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt creates or replaces a receipt
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// GetMaster returns the master record, or nil when none exists
	GetMaster() (*MasterRecord, error)

	// SaveMaster creates or replaces the master record
	SaveMaster(master *MasterRecord) error

	// DeleteMaster removes the master record with the given ID
	DeleteMaster(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Records are stored as
// JSON under their ID.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucket, masterBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) put(bucket, id string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", bucket, err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(id), data)
	})
}

func (b *BoltDB) remove(bucket, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt.Get([]byte(id)) == nil {
			return fmt.Errorf("%s %s: %w", bucket, id, ErrNotFound)
		}
		return bkt.Delete([]byte(id))
	})
}

// SaveReceipt creates or replaces a receipt
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.put(receiptBucket, receipt.ID, receipt)
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts in key order
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucket)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt %s: %w", k, err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.remove(receiptBucket, id)
}

// GetMaster returns the master record, or nil when none exists
func (b *BoltDB) GetMaster() (*MasterRecord, error) {
	var master *MasterRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket([]byte(masterBucket)).Cursor().First()
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &master)
	})
	if err != nil {
		return nil, fmt.Errorf("reading master record: %w", err)
	}
	return master, nil
}

// SaveMaster creates or replaces the master record
func (b *BoltDB) SaveMaster(master *MasterRecord) error {
	return b.put(masterBucket, master.ID, master)
}

// DeleteMaster removes the master record with the given ID
func (b *BoltDB) DeleteMaster(id string) error {
	return b.remove(masterBucket, id)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
