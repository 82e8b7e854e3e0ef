package eviction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

// Store persists eviction manager state across restarts in a single
// bbolt.DB, one bucket per manager name, so that a restart does not
// immediately treat recently-visited artifacts as stale.
type Store struct {
	db *bbolt.DB
}

type persistedState struct {
	Items       []int64             `json:"items"`
	TimeToPaths map[string][]string `json:"time_to_paths"`
}

// OpenStore opens (creating if necessary) the bbolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("eviction: opening bbolt database at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the persisted heap and path index for manager name, returning
// a zero-value result if nothing has been persisted yet.
func (s *Store) Load(name string) (timeHeap, map[int64][]string, error) {
	var state persistedState

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte("state"))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("eviction: reading state for %q: %w", name, err)
	}

	timeToPaths := make(map[int64][]string, len(state.TimeToPaths))
	for k, v := range state.TimeToPaths {
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		timeToPaths[n] = v
	}

	return timeHeap(state.Items), timeToPaths, nil
}

// Save persists the heap and path index for manager name.
func (s *Store) Save(name string, items timeHeap, timeToPaths map[int64][]string) error {
	state := persistedState{
		Items:       []int64(items),
		TimeToPaths: make(map[string][]string, len(timeToPaths)),
	}
	for k, v := range timeToPaths {
		state.TimeToPaths[strconv.FormatInt(k, 10)] = v
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("eviction: marshalling state for %q: %w", name, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		return bucket.Put([]byte("state"), data)
	})
}
