package p2p

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/canopy-network/accord/lib"
)

/*
	MemNetwork is an in-process transport between authorities. Every message is encoded and decoded through the
	wire codec on its way, and the network misbehaves on demand: messages are dropped, duplicated and delayed
	(which reorders them), and directional links can be cut to partition the authorities.
*/

// Config controls how unreliable a MemNetwork is
type Config struct {
	DropRate      float64       // probability a message to one peer is lost
	DuplicateRate float64       // probability a delivered message arrives twice
	MaxDelay      time.Duration // each copy is delayed uniformly in [0, MaxDelay)
	Seed          uint64        // seeds the drop/duplicate/delay decisions
}

// link is a directed connection between two peers
type link struct{ from, to string }

// MemNetwork connects MemPeers
type MemNetwork struct {
	config  Config
	peers   map[string]*MemPeer // id -> peer
	blocked map[link]struct{}   // cut links
	closed  bool
	rand    *rand.Rand
	randMu  sync.Mutex
	mu      sync.RWMutex
	log     lib.LoggerI
}

// NewMemNetwork() creates an empty network
func NewMemNetwork(c Config, log lib.LoggerI) *MemNetwork {
	return &MemNetwork{
		config:  c,
		peers:   make(map[string]*MemPeer),
		blocked: make(map[link]struct{}),
		rand:    rand.New(rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15)),
		log:     log,
	}
}

// MemPeer is one authority's endpoint; it implements the engine's Network
type MemPeer struct {
	id    []byte
	net   *MemNetwork
	inbox chan *lib.Message
}

// Join() attaches a peer with an inbox of the given capacity
func (n *MemNetwork) Join(id []byte, inboxSize int) *MemPeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := &MemPeer{id: id, net: n, inbox: make(chan *lib.Message, inboxSize)}
	n.peers[string(id)] = p
	return p
}

// Block() cuts the directed link from -> to
func (n *MemNetwork) Block(from, to []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked[link{string(from), string(to)}] = struct{}{}
}

// Partition() cuts every link between peers of different groups, in both directions
func (n *MemNetwork) Partition(groups ...[][]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, a := range groups {
		for j, b := range groups {
			if i == j {
				continue
			}
			for _, from := range a {
				for _, to := range b {
					n.blocked[link{string(from), string(to)}] = struct{}{}
				}
			}
		}
	}
}

// Heal() restores every link
func (n *MemNetwork) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked = make(map[link]struct{})
}

// Close() stops all delivery and closes every inbox
func (n *MemNetwork) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, p := range n.peers {
		close(p.inbox)
	}
}

// Broadcast() implements the engine's Network; self is never a recipient
func (p *MemPeer) Broadcast(msg *lib.Message) lib.ErrorI {
	p.net.mu.RLock()
	if p.net.closed {
		p.net.mu.RUnlock()
		return ErrNetworkClosed()
	}
	targets := make([]*MemPeer, 0, len(p.net.peers))
	for id, peer := range p.net.peers {
		if id != string(p.id) {
			targets = append(targets, peer)
		}
	}
	p.net.mu.RUnlock()
	bz := msg.Marshal()
	for _, to := range targets {
		p.net.send(p.id, to, bz)
	}
	return nil
}

// Send() implements the engine's Network
func (p *MemPeer) Send(to []byte, msg *lib.Message) lib.ErrorI {
	p.net.mu.RLock()
	if p.net.closed {
		p.net.mu.RUnlock()
		return ErrNetworkClosed()
	}
	peer, found := p.net.peers[string(to)]
	p.net.mu.RUnlock()
	if !found {
		return ErrUnknownPeer(to)
	}
	p.net.send(p.id, peer, msg.Marshal())
	return nil
}

// Inbound() implements the engine's Network
func (p *MemPeer) Inbound() <-chan *lib.Message { return p.inbox }

// ID() returns the peer's id
func (p *MemPeer) ID() []byte { return p.id }

// send() applies the link state and the configured faults to one message for one peer
func (n *MemNetwork) send(from []byte, to *MemPeer, bz []byte) {
	n.mu.RLock()
	_, cut := n.blocked[link{string(from), string(to.id)}]
	n.mu.RUnlock()
	if cut || n.chance(n.config.DropRate) {
		return
	}
	copies := 1
	if n.chance(n.config.DuplicateRate) {
		copies++
	}
	for range copies {
		if delay := n.delay(); delay > 0 {
			time.AfterFunc(delay, func() { n.deliver(to, bz) })
		} else {
			n.deliver(to, bz)
		}
	}
}

// deliver() decodes the bytes into a fresh message and puts it in the inbox, dropping it if the inbox is full
func (n *MemNetwork) deliver(to *MemPeer, bz []byte) {
	msg, err := lib.NewMessageFromBytes(bz)
	if err != nil {
		n.log.Errorf("MemNetwork failed to decode a message: %s", err.Error())
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case to.inbox <- msg:
	default:
		n.log.Debug(ErrPeerInboxFull(to.id).Error())
	}
}

// chance() returns true with probability p
func (n *MemNetwork) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	n.randMu.Lock()
	defer n.randMu.Unlock()
	return n.rand.Float64() < p
}

// delay() returns a random delay below MaxDelay
func (n *MemNetwork) delay() time.Duration {
	if n.config.MaxDelay <= 0 {
		return 0
	}
	n.randMu.Lock()
	defer n.randMu.Unlock()
	return time.Duration(n.rand.Int64N(int64(n.config.MaxDelay)))
}
