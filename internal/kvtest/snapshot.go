package kvtest

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	stringsBucket = []byte("strings")
	listsBucket   = []byte("lists")
)

// Export writes the live key space to a bbolt file at path, replacing its buckets.
func (s *Store) Export(path string) error {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{stringsBucket, listsBucket} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		sb, err := tx.CreateBucket(stringsBucket)
		if err != nil {
			return err
		}
		lb, err := tx.CreateBucket(listsBucket)
		if err != nil {
			return err
		}

		var werr error
		s.Range(func(key, str string, list []string, isList bool) bool {
			if !isList {
				werr = sb.Put([]byte(key), []byte(str))
				return werr == nil
			}
			var b *bolt.Bucket
			if b, werr = lb.CreateBucket([]byte(key)); werr != nil {
				return false
			}
			for i, v := range list {
				idx := make([]byte, 8)
				binary.BigEndian.PutUint64(idx, uint64(i))
				if werr = b.Put(idx, []byte(v)); werr != nil {
					return false
				}
			}
			return true
		})
		return werr
	})
}

// Import loads a file written by Export into the store.
func (s *Store) Import(path string) error {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		if sb := tx.Bucket(stringsBucket); sb != nil {
			if err := sb.ForEach(func(k, v []byte) error {
				s.Set(string(k), string(v))
				return nil
			}); err != nil {
				return err
			}
		}
		lb := tx.Bucket(listsBucket)
		if lb == nil {
			return nil
		}
		return lb.ForEach(func(k, v []byte) error {
			b := lb.Bucket(k)
			if b == nil {
				return nil
			}
			return b.ForEach(func(_, item []byte) error {
				_, err := s.Push(string(k), string(item), false)
				return err
			})
		})
	})
}
