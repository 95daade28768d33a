// store.go - JSON records over a pebble key-value store.
//
// Both the settlement ledger and the transfer progress log persist through
// this wrapper. Keys are "<prefix>/<id>" strings; values are JSON documents.

package store

import (
	"encoding/json"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("record not found")

// DB is a pebble database holding JSON records.
type DB struct {
	db *pebble.DB
}

// Open opens the database at path. With inMemory set the data lives in an
// in-memory filesystem and path only names it.
func Open(path string, inMemory bool) (*DB, error) {
	opts := &pebble.Options{}
	if inMemory {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	return &DB{db: db}, nil
}

// Key joins a record prefix and an identifier.
func Key(prefix string, id []byte) []byte {
	k := make([]byte, 0, len(prefix)+1+len(id))
	k = append(k, prefix...)
	k = append(k, '/')
	return append(k, id...)
}

// Get decodes the record at key into v.
func (d *DB) Get(key []byte, v any) error {
	return get(d.db, key, v)
}

type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func get(g getter, key []byte, v any) error {
	data, closer, err := g.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "get")
	}
	defer closer.Close()
	return errors.Wrap(json.Unmarshal(data, v), "decode record")
}

// Put encodes v and stores it at key.
func (d *DB) Put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	return errors.Wrap(d.db.Set(key, data, pebble.Sync), "set")
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(key []byte) error {
	return errors.Wrap(d.db.Delete(key, pebble.Sync), "delete")
}

// Has reports whether key holds a record.
func (d *DB) Has(key []byte) (bool, error) {
	_, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "get")
	}
	closer.Close()
	return true, nil
}

// Scan calls fn for every record whose key starts with prefix + "/", in key order.
func (d *DB) Scan(prefix string, fn func(key, value []byte) error) error {
	lower := Key(prefix, nil)
	upper := append([]byte(prefix), '/'+1)
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errors.Wrap(err, "scan")
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	return errors.Wrap(iter.Close(), "scan")
}

// Batch groups writes that must land together.
type Batch struct {
	b *pebble.Batch
}

// NewBatch starts an atomic write batch.
func (d *DB) NewBatch() *Batch {
	return &Batch{b: d.db.NewBatch()}
}

// Put stages v at key.
func (b *Batch) Put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	return errors.Wrap(b.b.Set(key, data, nil), "batch set")
}

// Delete stages the removal of key.
func (b *Batch) Delete(key []byte) error {
	return errors.Wrap(b.b.Delete(key, nil), "batch delete")
}

// Commit applies every staged write atomically.
func (b *Batch) Commit() error {
	return errors.Wrap(b.b.Commit(pebble.Sync), "commit")
}

// Abort discards the batch.
func (b *Batch) Abort() error {
	return b.b.Close()
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
