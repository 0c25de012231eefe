// Package table implements the process-wide address table: the mapping
// from a local identity's public key to its live per-peer outbound
// senders. Resolves the cyclic-ownership hazard between sessions and the
// table per the design note: the table holds only a cheap, clonable
// sender; the owning session loop holds the matching receiver exclusively
// and removes the entry on exit.
package table

import "sync"

// SendItem is one (token, data) pair enqueued on a per-peer sender.
type SendItem struct {
	Token [12]byte
	Data  string
}

// Sender is the single-slot, single-producer-from-the-table's-perspective
// handoff registered per (host, peer) pair. Capacity 1 enforces the
// strict single-slot backpressure named in the data model: Send blocks
// until the session loop has drained the previous item.
type Sender chan SendItem

// NewSender allocates a fresh capacity-1 channel for a new session.
func NewSender() Sender {
	return make(Sender, 1)
}

type peerKey [32]byte

// Table is the shared address table: local public key -> peer public key
// -> Sender. One mutex covers the whole map; mutation windows are
// insert-then-register and remove-on-exit only, never held across network
// I/O.
type Table struct {
	mu      sync.Mutex
	byLocal map[peerKey]map[peerKey]Sender
}

// New returns an empty address table.
func New() *Table {
	return &Table{byLocal: make(map[peerKey]map[peerKey]Sender)}
}

// Register inserts sender under (host, peer). It is called once, by the
// session loop, immediately after authentication succeeds and before any
// event is published.
func (t *Table) Register(host, peer [32]byte, sender Sender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := peerKey(host)
	p := peerKey(peer)
	m, ok := t.byLocal[h]
	if !ok {
		m = make(map[peerKey]Sender)
		t.byLocal[h] = m
	}
	m[p] = sender
}

// Remove deletes the (host, peer) entry, if present. Called once, by the
// session loop, on every exit path.
func (t *Table) Remove(host, peer [32]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := peerKey(host)
	p := peerKey(peer)
	if m, ok := t.byLocal[h]; ok {
		delete(m, p)
		if len(m) == 0 {
			delete(t.byLocal, h)
		}
	}
}

// Lookup clones out the sender for (host, peer) under the lock and
// returns immediately, so callers never await a network operation while
// holding the table's mutex.
func (t *Table) Lookup(host, peer [32]byte) (Sender, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byLocal[peerKey(host)]
	if !ok {
		return nil, false
	}
	s, ok := m[peerKey(peer)]
	return s, ok
}

// Snapshot returns a copy of host -> []peer for the UI bridge's
// Initialize exchange.
func (t *Table) Snapshot() map[[32]byte][][32]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[[32]byte][][32]byte, len(t.byLocal))
	for h, m := range t.byLocal {
		peers := make([][32]byte, 0, len(m))
		for p := range m {
			peers = append(peers, [32]byte(p))
		}
		out[[32]byte(h)] = peers
	}
	return out
}
