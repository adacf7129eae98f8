package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// bucketCatalog holds one JSON-marshalled types.Schema per table, keyed by
// table name. bucketPrefix+tableName holds that table's packed rows, keyed
// by an 8-byte big-endian row id assigned from the bucket's own sequence.
var bucketCatalog = []byte("catalog")

const bucketPrefix = "table:"

// Store is the Storage Facade of spec.md §4 ("Storage Facade"): table and
// catalog operations backed by a single embedded bbolt database, reusing
// the teacher's pkg/storage/boltdb.go shape (one bucket per entity,
// db.Update/db.View transactions, JSON-marshalled catalog values) but with
// packed binary row values instead of whole-struct JSON, per spec.md §6.
type Store struct {
	db  *bolt.DB
	log zerolog.Logger
}

// Row is one live row read back from a table scan, carrying the row id
// storage assigned it so callers (pkg/executor) can address it for
// UpdateRow/DeleteRow.
type Row struct {
	ID     uint64
	Values []types.Value
}

// Open opens (creating if absent) the bbolt-backed store at
// <dataDir>/ledger.db and ensures the catalog bucket exists.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "ledger.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCatalog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init catalog bucket: %w", err)
	}

	return &Store{db: db, log: log.WithComponent("storage")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func tableBucketName(table string) []byte {
	return []byte(bucketPrefix + table)
}

// TableExists reports whether table is present in the catalog.
func (s *Store) TableExists(table string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		exists = b.Get([]byte(table)) != nil
		return nil
	})
	return exists, err
}

// Schema returns table's catalog entry.
func (s *Store) Schema(table string) (types.Schema, error) {
	var schema types.Schema
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		data := b.Get([]byte(table))
		if data == nil {
			return ErrTableNotFound
		}
		return json.Unmarshal(data, &schema)
	})
	return schema, err
}

// Tables lists every table name currently in the catalog.
func (s *Store) Tables() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalog)
		return b.ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// CreateTable registers schema in the catalog and creates its row bucket.
// Fails with ErrTableExists if the table is already registered, matching
// spec.md §4.2's CreateTable contract.
func (s *Store) CreateTable(schema types.Schema) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cat := tx.Bucket(bucketCatalog)
		if cat.Get([]byte(schema.Table)) != nil {
			return ErrTableExists
		}
		data, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("storage: marshal schema for %s: %w", schema.Table, err)
		}
		if err := cat.Put([]byte(schema.Table), data); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(tableBucketName(schema.Table))
		return err
	})
}

// DropTable removes table's catalog entry and its row bucket.
func (s *Store) DropTable(table string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cat := tx.Bucket(bucketCatalog)
		if cat.Get([]byte(table)) == nil {
			return ErrTableNotFound
		}
		if err := cat.Delete([]byte(table)); err != nil {
			return err
		}
		return tx.DeleteBucket(tableBucketName(table))
	})
}

// ReadTable returns the schema and every non-tombstoned row of table, in
// row-id (insertion) order, satisfying spec.md §8's round-trip invariant.
func (s *Store) ReadTable(table string) (types.Schema, []Row, error) {
	schema, err := s.Schema(table)
	if err != nil {
		return types.Schema{}, nil, err
	}

	var rows []Row
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucketName(table))
		if b == nil {
			return ErrTableNotFound
		}
		return b.ForEach(func(k, v []byte) error {
			values, ok, derr := decodeRow(schema, v)
			if derr != nil {
				return fmt.Errorf("storage: decode row in %s: %w", table, derr)
			}
			if !ok {
				return nil
			}
			rows = append(rows, Row{ID: binary.BigEndian.Uint64(k), Values: values})
			return nil
		})
	})
	return schema, rows, err
}

// InsertRow appends one row to table, assigning it a fresh monotonic row
// id from the bucket's sequence (spec.md §4.2's Insert: "assigning a fresh
// monotonic internal row id").
func (s *Store) InsertRow(table string, values []types.Value) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		cat := tx.Bucket(bucketCatalog)
		data := cat.Get([]byte(table))
		if data == nil {
			return ErrTableNotFound
		}
		var schema types.Schema
		if err := json.Unmarshal(data, &schema); err != nil {
			return err
		}

		encoded, err := encodeRow(schema, values)
		if err != nil {
			return err
		}

		b := tx.Bucket(tableBucketName(table))
		if b == nil {
			return ErrTableNotFound
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return b.Put(key, encoded)
	})
	return id, err
}

// UpdateRow tombstones rowID's current version and appends a replacement
// with newValues, per spec.md §4.2 ("Update/Delete never mutate storage in
// place — they tombstone the old version and append a new one"). Returns
// the new row's id.
func (s *Store) UpdateRow(table string, rowID uint64, newValues []types.Value) (uint64, error) {
	var newID uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		cat := tx.Bucket(bucketCatalog)
		data := cat.Get([]byte(table))
		if data == nil {
			return ErrTableNotFound
		}
		var schema types.Schema
		if err := json.Unmarshal(data, &schema); err != nil {
			return err
		}

		b := tx.Bucket(tableBucketName(table))
		if b == nil {
			return ErrTableNotFound
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, rowID)
		old := b.Get(key)
		if old == nil {
			return ErrRowNotFound
		}
		if err := b.Put(key, tombstone(old)); err != nil {
			return err
		}

		encoded, err := encodeRow(schema, newValues)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		newID = seq
		newKey := make([]byte, 8)
		binary.BigEndian.PutUint64(newKey, newID)
		return b.Put(newKey, encoded)
	})
	return newID, err
}

// DeleteRow tombstones rowID's current version in place, per spec.md
// §4.2's Delete: "marks matching rows tombstoned".
func (s *Store) DeleteRow(table string, rowID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucketName(table))
		if b == nil {
			return ErrTableNotFound
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, rowID)
		old := b.Get(key)
		if old == nil {
			return ErrRowNotFound
		}
		return b.Put(key, tombstone(old))
	})
}
