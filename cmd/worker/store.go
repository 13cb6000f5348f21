package main

import (
	"encoding/gob"
	"os"
	"sync"
)

// Item is a single record in the store, mirroring the three-column
// "items" table the original tenant backends kept in SQLite.
type Item struct {
	ID    int
	Name  string
	Value string
}

// Store is a flat, gob-encoded file of Items, loaded fully into memory
// and rewritten on every mutation. It is not meant to scale past the
// small record counts a worker process handles in its own lifetime.
type Store struct {
	path string

	mu     sync.Mutex
	items  []Item
	nextID int
}

// openStore loads path if it exists, or starts empty.
func openStore(path string) (*Store, error) {
	s := &Store{path: path, nextID: 1}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&s.items); err != nil {
		return nil, err
	}
	for _, it := range s.items {
		if it.ID >= s.nextID {
			s.nextID = it.ID + 1
		}
	}
	return s, nil
}

// Insert appends a new item and persists the store, returning the
// assigned id.
func (s *Store) Insert(name, value string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.items = append(s.items, Item{ID: id, Name: name, Value: value})
	s.persistLocked()
	return id
}

// Update sets the value of the item with the given id, returning the
// number of rows affected (0 or 1).
func (s *Store) Update(id int, value string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Value = value
			s.persistLocked()
			return 1
		}
	}
	return 0
}

// Select returns every item currently in the store.
func (s *Store) Select() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// SelectByID returns the items matching id, which is either zero or one
// item depending on whether it exists.
func (s *Store) SelectByID(id int) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Item, 0, 1)
	for _, it := range s.items {
		if it.ID == id {
			out = append(out, it)
		}
	}
	return out
}

// persistLocked rewrites the store file. Callers must hold s.mu. A
// write failure is not propagated to the caller: the worker keeps
// serving from its in-memory state, matching the fire-and-forget
// flush style used elsewhere for non-critical persistence.
func (s *Store) persistLocked() {
	f, err := os.Create(s.path)
	if err != nil {
		return
	}
	defer f.Close()
	_ = gob.NewEncoder(f).Encode(s.items)
}
