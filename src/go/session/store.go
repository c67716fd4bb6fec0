// Package session tracks the process-wide WhatsApp connection state.
//
// The store holds a single (state, qr, account) triple. Every setter
// replaces the whole triple under one lock, so a QR payload and account
// metadata are never observed together.
package session

import (
	"sync"
	"time"
)

// State is the connection state of the messaging engine.
type State int

const (
	Disconnected State = iota
	AwaitingScan
	Connected
)

func (s State) String() string {
	switch s {
	case AwaitingScan:
		return "awaiting_scan"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// AccountInfo describes the linked account while connected.
type AccountInfo struct {
	Phone    string `json:"phone"`
	Platform string `json:"platform"`
	PushName string `json:"push_name,omitempty"`
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	State     State
	QR        string
	Account   *AccountInfo
	UpdatedAt time.Time
}

type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

func NewStore() *Store {
	s := &Store{now: time.Now}
	s.snap = Snapshot{State: Disconnected, UpdatedAt: s.now()}
	return s
}

// SetAwaitingScan records a fresh QR payload and drops any account info.
func (s *Store) SetAwaitingScan(qr string) {
	s.replace(Snapshot{State: AwaitingScan, QR: qr})
}

// SetConnected records the linked account and drops any QR payload.
func (s *Store) SetConnected(info AccountInfo) {
	s.replace(Snapshot{State: Connected, Account: &info})
}

func (s *Store) SetDisconnected() {
	s.replace(Snapshot{State: Disconnected})
}

func (s *Store) replace(next Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next.UpdatedAt = s.now()
	s.snap = next
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snap
	if snap.Account != nil {
		account := *snap.Account
		snap.Account = &account
	}
	return snap
}

func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.State == Connected
}
