package flowlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var boltDBBucket = []byte("flows")

type boltDBStore struct {
	db *bbolt.DB
}

// BoltDBStore implements Store on top of BoltDB. Entries survive the run and
// can be summarized later.
func BoltDBStore(path string) (Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltDBBucket); err != nil {
			return fmt.Errorf("failed to create bucket: %s", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &boltDBStore{db: db}, nil
}

func (s *boltDBStore) Record(e *Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltDBBucket)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}

		e.ID = id
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(binaryID(id), raw)
	})
}

func (s *boltDBStore) Range(fn RangeFunc) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltDBBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("entry %d: %s", binary.BigEndian.Uint64(k), err)
			}
			if !fn(&e) {
				return nil
			}
		}
		return nil
	})
}

func (s *boltDBStore) Count() (count int) {
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(boltDBBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0
	}

	return count
}

// Close closes underlying BoltDB instance.
func (s *boltDBStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func binaryID(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
