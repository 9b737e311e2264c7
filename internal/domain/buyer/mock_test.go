package buyer

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

type memLedger struct {
	mu       sync.Mutex
	byID     map[string]*Buyer
	history  map[string][]ReferralEntry
	setCalls int
	// takenOnSet makes the next N SetReferralCode calls report a collision.
	takenOnSet int
	createErr  error
}

func newMemLedger(buyers ...*Buyer) *memLedger {
	m := &memLedger{
		byID:    make(map[string]*Buyer),
		history: make(map[string][]ReferralEntry),
	}
	for _, b := range buyers {
		m.byID[b.ID] = b
	}
	return m
}

func (m *memLedger) Create(_ context.Context, b *Buyer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.byID {
		if existing.Username == b.Username || existing.Phone == b.Phone {
			return ErrAlreadyExists
		}
	}
	cp := *b
	m.byID[b.ID] = &cp
	return nil
}

func (m *memLedger) GetByID(_ context.Context, id string) (*Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memLedger) GetByUsername(_ context.Context, username string) (*Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byID {
		if b.Username == username || b.Phone == username {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memLedger) GetByReferralCode(_ context.Context, code string) (*Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byID {
		if b.ReferralCode != "" && b.ReferralCode == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memLedger) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := m.GetByReferralCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *memLedger) SetReferralCode(_ context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.takenOnSet > 0 {
		m.takenOnSet--
		return ErrReferralCodeTaken
	}
	for _, b := range m.byID {
		if b.ReferralCode == code {
			return ErrReferralCodeTaken
		}
	}
	b, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	b.ReferralCode = code
	return nil
}

func (m *memLedger) ListReferralCodes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var codes []string
	for _, b := range m.byID {
		if b.ReferralCode != "" {
			codes = append(codes, b.ReferralCode)
		}
	}
	return codes, nil
}

func (m *memLedger) ListWithoutReferralCode(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, b := range m.byID {
		if b.ReferralCode == "" && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memLedger) AdjustCoins(_ context.Context, id string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	if b.ReferralCoins+delta < 0 {
		return b.ReferralCoins, ErrInsufficientCoins
	}
	b.ReferralCoins += delta
	return b.ReferralCoins, nil
}

func (m *memLedger) IncrementReferrals(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	b.TotalReferrals++
	return nil
}

func (m *memLedger) AppendReferralHistory(_ context.Context, referrerID string, e ReferralEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[referrerID] = append(m.history[referrerID], e)
	return nil
}

func (m *memLedger) ReferralHistory(_ context.Context, id string) ([]ReferralEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReferralEntry(nil), m.history[id]...), nil
}

type memAddressBook struct {
	saved map[string][]SavedAddress
}

func (m *memAddressBook) Save(_ context.Context, buyerID string, a Address, at time.Time) error {
	if m.saved == nil {
		m.saved = make(map[string][]SavedAddress)
	}
	m.saved[buyerID] = append([]SavedAddress{{Address: a, LastUsedAt: at}}, m.saved[buyerID]...)
	return nil
}

func (m *memAddressBook) ListRecent(_ context.Context, buyerID string, limit int) ([]SavedAddress, error) {
	list := m.saved[buyerID]
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}
