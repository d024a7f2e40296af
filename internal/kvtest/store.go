package kvtest

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"
)

var (
	ErrWrongType = errors.New("wrong type")
	ErrNotNumber = errors.New("value is not an integer")
)

type entry struct {
	key     string
	str     string
	list    []string
	isList  bool
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Store is the stub server's key space: strings and lists ordered by key.
type Store struct {
	mu   sync.Mutex
	tree *btree.BTreeG[*entry]
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{
		tree: btree.NewG[*entry](32, func(a, b *entry) bool { return a.key < b.key }),
		now:  time.Now,
	}
}

// lookup returns the live entry for key. Callers hold s.mu.
func (s *Store) lookup(key string) (*entry, bool) {
	e, ok := s.tree.Get(&entry{key: key})
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		s.tree.Delete(e)
		return nil, false
	}
	return e, true
}

func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(&entry{key: key, str: value})
}

func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return "", false, nil
	}
	if e.isList {
		return "", false, ErrWrongType
	}
	return e.str, true, nil
}

func (s *Store) Append(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		s.tree.ReplaceOrInsert(&entry{key: key, str: value})
		return nil
	}
	if e.isList {
		return ErrWrongType
	}
	e.str += value
	return nil
}

func (s *Store) Incr(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		s.tree.ReplaceOrInsert(&entry{key: key, str: "1"})
		return 1, nil
	}
	if e.isList {
		return 0, ErrWrongType
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrNotNumber
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *Store) Push(key, value string, front bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		e = &entry{key: key, isList: true}
		s.tree.ReplaceOrInsert(e)
	}
	if !e.isList {
		return 0, ErrWrongType
	}
	if front {
		e.list = append([]string{value}, e.list...)
	} else {
		e.list = append(e.list, value)
	}
	return len(e.list), nil
}

func (s *Store) Pop(key string, front bool) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return "", false, nil
	}
	if !e.isList {
		return "", false, ErrWrongType
	}
	if len(e.list) == 0 {
		return "", false, nil
	}
	var v string
	if front {
		v, e.list = e.list[0], e.list[1:]
	} else {
		v, e.list = e.list[len(e.list)-1], e.list[:len(e.list)-1]
	}
	return v, true, nil
}

func (s *Store) Len(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return 0, nil
	}
	if !e.isList {
		return 0, ErrWrongType
	}
	return len(e.list), nil
}

func (s *Store) Expire(key string, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return false
	}
	e.expires = s.now().Add(d)
	return true
}

// TTL returns the remaining seconds, -1 for a key without expiry and -2 for a
// missing key.
func (s *Store) TTL(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return -2
	}
	if e.expires.IsZero() {
		return -1
	}
	return int64(e.expires.Sub(s.now()).Round(time.Second) / time.Second)
}

// Range calls fn for every live entry in key order.
func (s *Store) Range(fn func(key string, str string, list []string, isList bool) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.tree.Ascend(func(e *entry) bool {
		if e.expired(now) {
			return true
		}
		return fn(e.key, e.str, e.list, e.isList)
	})
}
