// Package bolt is the bulk tier driver backed by go.etcd.io/bbolt. Every object
// store is a bucket; the schema version lives in a separate meta bucket.
// Item keys are stored behind a one byte tag, bolt does not accept empty keys.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/tkv/lib/bulk"
	bolt "go.etcd.io/bbolt"
)

var (
	metaBucket = []byte("__meta__")
	versionKey = []byte("version")
)

const keyTag byte = 'k'

func itemKey(key string) []byte {
	k := make([]byte, 1+len(key))
	k[0] = keyTag
	copy(k[1:], key)
	return k
}

// Driver opens bolt databases.
type Driver struct {
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration
}

// New returns a bolt driver with a one second lock timeout.
func New() *Driver {
	return &Driver{Timeout: time.Second}
}

// Name implements bulk.Driver.
func (d *Driver) Name() string { return "bolt" }

// Open implements bulk.Driver.
func (d *Driver) Open(_ context.Context, path string) (bulk.Database, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: d.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &database{db: db}, nil
}

type database struct {
	db *bolt.DB
}

func (d *database) Version(_ context.Context) (uint64, error) {
	var version uint64
	err := d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return nil
		}
		if v := meta.Get(versionKey); len(v) == 8 {
			version = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return version, err
}

func (d *database) Upgrade(_ context.Context, version uint64, stores []string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		for _, store := range stores {
			if store == string(metaBucket) {
				return fmt.Errorf("store name %q is reserved", store)
			}
			if _, err := tx.CreateBucketIfNotExists([]byte(store)); err != nil {
				return fmt.Errorf("create store %q: %w", store, err)
			}
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, version)
		return meta.Put(versionKey, buf)
	})
}

func (d *database) HasStore(_ context.Context, store string) (bool, error) {
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(store)) != nil
		return nil
	})
	return ok, err
}

func (d *database) Get(_ context.Context, store, key string) ([]byte, bool, error) {
	var record []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return fmt.Errorf("%w: %s", bulk.ErrNoStore, store)
		}
		if v := b.Get(itemKey(key)); v != nil {
			// values are only valid inside the transaction
			record = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return record, record != nil, nil
}

func (d *database) Put(_ context.Context, store, key string, record []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return fmt.Errorf("%w: %s", bulk.ErrNoStore, store)
		}
		return b.Put(itemKey(key), record)
	})
}

func (d *database) Delete(_ context.Context, store, key string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return fmt.Errorf("%w: %s", bulk.ErrNoStore, store)
		}
		return b.Delete(itemKey(key))
	})
}

func (d *database) Keys(_ context.Context, store string) ([]string, error) {
	keys := make([]string, 0)
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(store))
		if b == nil {
			return fmt.Errorf("%w: %s", bulk.ErrNoStore, store)
		}
		return b.ForEach(func(k, _ []byte) error {
			if len(k) > 0 && k[0] == keyTag {
				keys = append(keys, string(k[1:]))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (d *database) Clear(_ context.Context, store string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		name := []byte(store)
		if err := tx.DeleteBucket(name); err != nil {
			if errors.Is(err, bolt.ErrBucketNotFound) {
				return fmt.Errorf("%w: %s", bulk.ErrNoStore, store)
			}
			return err
		}
		_, err := tx.CreateBucket(name)
		return err
	})
}

func (d *database) Close() error {
	return d.db.Close()
}
