package navigation

import "sync"

// Store holds one State per user. Get and Put replace whole records;
// concurrent writers for the same user are last-write-wins.
type Store struct {
	m sync.Map // int64 -> State
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the user's state, or Initial() and false if the user is new.
func (s *Store) Get(user int64) (State, bool) {
	v, ok := s.m.Load(user)
	if !ok {
		return Initial(), false
	}
	return v.(State), true
}

// Put replaces the user's state.
func (s *Store) Put(user int64, st State) {
	s.m.Store(user, st)
}

// Len counts stored users.
func (s *Store) Len() int {
	n := 0
	s.m.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
