package canhoto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	recordBucket    = "canhotos"
	numIndexBucket  = "by_num"
	dateIndexBucket = "by_date"
	dateStoreBucket = "by_date_store"
)

// ErrNotFound is returned when a record id is not in the store.
var ErrNotFound = errors.New("canhoto not found")

// DB defines the interface for record store operations
type DB interface {
	// SaveCanhoto inserts or replaces a record by id
	SaveCanhoto(c *Canhoto) error

	// GetCanhoto retrieves a record by id
	GetCanhoto(id string) (*Canhoto, error)

	// DeleteCanhoto removes a record; deleting an absent id is not an error
	DeleteCanhoto(id string) error

	// FindByNumber returns all records with the given number, optionally
	// restricted to an exact date
	FindByNumber(num, dateFilter string) ([]*Canhoto, error)

	// FindByDate returns all records with the given date
	FindByDate(date string) ([]*Canhoto, error)

	// FindByDateAndStore returns all records matching both fields; an
	// empty store behaves like FindByDate
	FindByDateAndStore(date, store string) ([]*Canhoto, error)

	// ListCanhotos returns every record, for backup export
	ListCanhotos() ([]*Canhoto, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Secondary lookups go
// through index buckets whose keys are "value\x00id"; field values are
// digits and dashes only, so NUL is a safe separator. Index entries are
// maintained in the same transaction as the record write.
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
		for _, name := range []string{recordBucket, numIndexBucket, dateIndexBucket, dateStoreBucket} {
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

func indexKey(parts ...string) []byte {
	out := []byte(parts[0])
	for _, p := range parts[1:] {
		out = append(out, 0)
		out = append(out, p...)
	}
	return out
}

// SaveCanhoto inserts or replaces a record and its index entries.
func (b *BoltDB) SaveCanhoto(c *Canhoto) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucket))

		// Drop index entries of the record being replaced, if any.
		if old := bucket.Get([]byte(c.ID)); old != nil {
			var prev Canhoto
			if err := json.Unmarshal(old, &prev); err != nil {
				return fmt.Errorf("unmarshaling existing canhoto: %w", err)
			}
			if err := deleteIndexEntries(tx, &prev); err != nil {
				return err
			}
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshaling canhoto: %w", err)
		}
		if err := bucket.Put([]byte(c.ID), data); err != nil {
			return err
		}
		return putIndexEntries(tx, c)
	})
}

func putIndexEntries(tx *bbolt.Tx, c *Canhoto) error {
	if c.Num != "" {
		if err := tx.Bucket([]byte(numIndexBucket)).Put(indexKey(c.Num, c.ID), []byte(c.ID)); err != nil {
			return err
		}
	}
	if c.Date != "" {
		if err := tx.Bucket([]byte(dateIndexBucket)).Put(indexKey(c.Date, c.ID), []byte(c.ID)); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(dateStoreBucket)).Put(indexKey(c.Date, c.Store, c.ID), []byte(c.ID)); err != nil {
			return err
		}
	}
	return nil
}

func deleteIndexEntries(tx *bbolt.Tx, c *Canhoto) error {
	if c.Num != "" {
		if err := tx.Bucket([]byte(numIndexBucket)).Delete(indexKey(c.Num, c.ID)); err != nil {
			return err
		}
	}
	if c.Date != "" {
		if err := tx.Bucket([]byte(dateIndexBucket)).Delete(indexKey(c.Date, c.ID)); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(dateStoreBucket)).Delete(indexKey(c.Date, c.Store, c.ID)); err != nil {
			return err
		}
	}
	return nil
}

// GetCanhoto retrieves a record by id
func (b *BoltDB) GetCanhoto(id string) (*Canhoto, error) {
	var c *Canhoto
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(recordBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCanhoto removes a record and its index entries. Absent ids are a
// no-op.
func (b *BoltDB) DeleteCanhoto(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var c Canhoto
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("unmarshaling canhoto: %w", err)
		}
		if err := deleteIndexEntries(tx, &c); err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
}

// scanIndex walks every index entry under prefix and loads the records
// they point at.
func (b *BoltDB) scanIndex(bucketName string, prefix []byte, keep func(*Canhoto) bool) ([]*Canhoto, error) {
	out := make([]*Canhoto, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(recordBucket))
		cur := tx.Bucket([]byte(bucketName)).Cursor()
		for k, id := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, id = cur.Next() {
			data := records.Get(id)
			if data == nil {
				return fmt.Errorf("index entry without record: %s", id)
			}
			var c Canhoto
			if err := json.Unmarshal(data, &c); err != nil {
				return fmt.Errorf("unmarshaling canhoto: %w", err)
			}
			if keep == nil || keep(&c) {
				out = append(out, &c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	return string(k[:len(prefix)]) == string(prefix)
}

// FindByNumber returns all records with the given number; a non-empty
// dateFilter further restricts to that exact date.
func (b *BoltDB) FindByNumber(num, dateFilter string) ([]*Canhoto, error) {
	var keep func(*Canhoto) bool
	if dateFilter != "" {
		keep = func(c *Canhoto) bool { return c.Date == dateFilter }
	}
	return b.scanIndex(numIndexBucket, indexKey(num, ""), keep)
}

// FindByDate returns all records with that exact date
func (b *BoltDB) FindByDate(date string) ([]*Canhoto, error) {
	return b.scanIndex(dateIndexBucket, indexKey(date, ""), nil)
}

// FindByDateAndStore returns all records matching both fields exactly.
// With an empty store it behaves identically to FindByDate.
func (b *BoltDB) FindByDateAndStore(date, store string) ([]*Canhoto, error) {
	if store == "" {
		return b.FindByDate(date)
	}
	return b.scanIndex(dateStoreBucket, indexKey(date, store, ""), nil)
}

// ListCanhotos returns all records
func (b *BoltDB) ListCanhotos() ([]*Canhoto, error) {
	out := make([]*Canhoto, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordBucket)).ForEach(func(k, v []byte) error {
			var c Canhoto
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshaling canhoto: %w", err)
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
