package opal

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceManager serializes the nonce-read-to-broadcast section per sender and
// remembers the last nonce it handed out, so concurrent deployments from one
// address never share a nonce even when the node's pending count lags.
//
// An entry is dropped once no lease holds or waits for it, unless a nonce was
// committed through it. Committed senders keep one small entry for the life of
// the manager to preserve their nonce floor.
type NonceManager struct {
	mu      sync.Mutex
	senders map[common.Address]*senderNonce
}

type senderNonce struct {
	sem  chan struct{}
	refs int // holders and waiters, guarded by NonceManager.mu
	next uint64
	used bool
}

// NewNonceManager creates an empty manager.
func NewNonceManager() *NonceManager {
	return &NonceManager{senders: make(map[common.Address]*senderNonce)}
}

func (m *NonceManager) ref(addr common.Address) *senderNonce {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.senders[addr]
	if !ok {
		s = &senderNonce{sem: make(chan struct{}, 1)}
		m.senders[addr] = s
	}
	s.refs++
	return s
}

func (m *NonceManager) unref(addr common.Address, s *senderNonce) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 && !s.used {
		delete(m.senders, addr)
	}
}

// Acquire blocks until addr's critical section is free or ctx is done.
// The lease must be finished with Commit or Release.
func (m *NonceManager) Acquire(ctx context.Context, addr common.Address) (*NonceLease, error) {
	s := m.ref(addr)
	select {
	case s.sem <- struct{}{}:
		return &NonceLease{manager: m, addr: addr, sender: s}, nil
	case <-ctx.Done():
		m.unref(addr, s)
		return nil, ctx.Err()
	}
}

// NonceLease is exclusive ownership of one sender's next nonce.
type NonceLease struct {
	manager *NonceManager
	addr    common.Address
	sender  *senderNonce
	nonce   uint64
	done    bool
}

// Reserve returns the nonce to use given the node's pending count: the larger
// of pending and one past the last nonce committed through this manager.
func (l *NonceLease) Reserve(pending uint64) uint64 {
	n := pending
	if l.sender.used && l.sender.next > n {
		n = l.sender.next
	}
	l.nonce = n
	return n
}

// Commit records the reserved nonce as used and ends the lease.
func (l *NonceLease) Commit() {
	if l.done {
		return
	}
	l.manager.mu.Lock()
	l.sender.next = l.nonce + 1
	l.sender.used = true
	l.manager.mu.Unlock()
	l.finish()
}

// Release ends the lease without consuming the reserved nonce.
func (l *NonceLease) Release() {
	if l.done {
		return
	}
	l.finish()
}

func (l *NonceLease) finish() {
	l.done = true
	<-l.sender.sem
	l.manager.unref(l.addr, l.sender)
}
