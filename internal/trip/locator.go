package trip

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// ErrPeerNotFound indicates no configured peer matches a looked-up address.
var ErrPeerNotFound = errors.New("trip: peer not found")

// ErrDuplicatePeer indicates Add was called with an address already
// registered; this is a no-op, not a hard error, but the caller is told
// so it can log the warning.
var ErrDuplicatePeer = errors.New("trip: duplicate peer address")

// Peer is one C2 locator entry: a configured remote TRIP peer.
type Peer struct {
	// Addr is the peer's address; addresses are compared by their 16-byte
	// IPv6 form only (IPv4 is represented IPv4-mapped), port ignored.
	Addr      netip.Addr
	RemoteITAD uint32
	Hold       uint16
	TransMode  TransMode
}

// Locator is an append-only registry of configured peers, the authority
// the Manager consults to decide whether an inbound connection's source
// address is known. Indices are stable for the lifetime of the process
// and double as the Manager's parallel session slot key.
type Locator struct {
	mu    sync.Mutex
	peers []Peer
}

// NewLocator creates an empty Locator.
func NewLocator() *Locator {
	return &Locator{}
}

// addrKey normalizes a to its 16-byte IPv6 form (IPv4 addresses mapped)
// so an address configured as an IPv4-mapped IPv6 literal and one parsed
// from a plain IPv4 connection compare equal.
func addrKey(a netip.Addr) netip.Addr {
	return netip.AddrFrom16(a.As16())
}

// Add appends a peer. Adding a duplicate address (by 16-byte IPv6 form) is
// a no-op; the caller should log ErrDuplicatePeer as a warning, not treat
// it as fatal.
func (l *Locator) Add(addr netip.Addr, remoteITAD uint32, hold uint16, trans TransMode) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := addrKey(addr)
	for i, p := range l.peers {
		if addrKey(p.Addr) == key {
			return i, ErrDuplicatePeer
		}
	}
	l.peers = append(l.peers, Peer{Addr: addr, RemoteITAD: remoteITAD, Hold: hold, TransMode: trans})
	return len(l.peers) - 1, nil
}

// Lookup performs a linear scan for addr and returns its slot index and
// peer record, stopping at the first match.
func (l *Locator) Lookup(addr netip.Addr) (int, Peer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := addrKey(addr)
	for i, p := range l.peers {
		if addrKey(p.Addr) == key {
			return i, p, nil
		}
	}
	return -1, Peer{}, ErrPeerNotFound
}

// Peers returns a snapshot of every configured peer, for a Control API
// "show peers" surface.
func (l *Locator) Peers() []Peer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Peer, len(l.peers))
	copy(out, l.peers)
	return out
}

// Len returns the number of configured peers, used by Manager to size its
// parallel session slot array.
func (l *Locator) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

// String implements fmt.Stringer for logging.
func (p Peer) String() string {
	return fmt.Sprintf("%s(itad=%d,hold=%d,trans=%d)", p.Addr, p.RemoteITAD, p.Hold, p.TransMode)
}
