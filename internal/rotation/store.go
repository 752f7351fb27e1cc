package rotation

// Store is the account repository behind the Rotator.
//
// The Rotator serializes every access under its own mutex, so
// implementations do not need to be safe for concurrent use on their own.
// All() must return accounts in registration order; selection tie-breaks
// depend on that order being stable.
type Store interface {
	Get(phone string) (*Account, bool)
	Put(a *Account)
	All() []*Account
	Len() int
}

// NewMemStore returns the default in-memory repository.
func NewMemStore() Store {
	return &memStore{byPhone: map[string]*Account{}}
}

type memStore struct {
	byPhone map[string]*Account
	order   []*Account
}

func (s *memStore) Get(phone string) (*Account, bool) {
	a, ok := s.byPhone[phone]
	return a, ok
}

func (s *memStore) Put(a *Account) {
	if _, ok := s.byPhone[a.Phone]; !ok {
		s.order = append(s.order, a)
	}
	s.byPhone[a.Phone] = a
}

func (s *memStore) All() []*Account { return s.order }

func (s *memStore) Len() int { return len(s.order) }
