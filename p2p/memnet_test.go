package p2p

import (
	"testing"
	"time"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/stretchr/testify/require"
)

var idA, idB, idC = []byte("peer a"), []byte("peer b"), []byte("peer c")

func newTestMessage(round uint64) *lib.Message {
	return &lib.Message{Vote: &lib.Vote{
		Height:    1,
		Round:     round,
		Step:      lib.StepPreVote,
		ValueHash: crypto.Hash([]byte("value")),
		Voter:     idA,
		Signature: []byte("signature"),
	}}
}

func newTestNetwork(t *testing.T, c Config) (*MemNetwork, *MemPeer, *MemPeer, *MemPeer) {
	n := NewMemNetwork(c, lib.NewNullLogger())
	t.Cleanup(n.Close)
	return n, n.Join(idA, 64), n.Join(idB, 64), n.Join(idC, 64)
}

// drain() returns everything currently in the peer's inbox
func drain(p *MemPeer) (msgs []*lib.Message) {
	for {
		select {
		case msg := <-p.Inbound():
			msgs = append(msgs, msg)
		default:
			return
		}
	}
}

func TestBroadcast(t *testing.T) {
	_, a, b, c := newTestNetwork(t, Config{})
	msg := newTestMessage(0)
	require.NoError(t, a.Broadcast(msg))
	require.Empty(t, drain(a))
	for _, p := range []*MemPeer{b, c} {
		got := drain(p)
		require.Len(t, got, 1)
		// each recipient decodes its own copy
		require.Equal(t, msg, got[0])
		require.NotSame(t, msg.Vote, got[0].Vote)
	}
}

func TestSend(t *testing.T) {
	_, a, b, c := newTestNetwork(t, Config{})
	require.NoError(t, a.Send(idB, newTestMessage(0)))
	require.Len(t, drain(b), 1)
	require.Empty(t, drain(c))
	err := a.Send([]byte("nobody"), newTestMessage(0))
	require.Error(t, err)
	require.Equal(t, lib.CodeUnknownPeer, err.Code())
}

func TestLinks(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		cut      func(n *MemNetwork)
		expected map[string]int // messages received per peer after each peer broadcasts once
	}{
		{
			name:     "connected",
			detail:   "everyone hears everyone else",
			cut:      func(n *MemNetwork) {},
			expected: map[string]int{"a": 2, "b": 2, "c": 2},
		},
		{
			name:     "blocked link",
			detail:   "a cut link is one directional",
			cut:      func(n *MemNetwork) { n.Block(idA, idB) },
			expected: map[string]int{"a": 2, "b": 1, "c": 2},
		},
		{
			name:     "partition",
			detail:   "groups only hear their own members",
			cut:      func(n *MemNetwork) { n.Partition([][]byte{idA, idB}, [][]byte{idC}) },
			expected: map[string]int{"a": 1, "b": 1, "c": 0},
		},
		{
			name:   "healed",
			detail: "heal restores every link",
			cut: func(n *MemNetwork) {
				n.Partition([][]byte{idA}, [][]byte{idB, idC})
				n.Heal()
			},
			expected: map[string]int{"a": 2, "b": 2, "c": 2},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			n, a, b, c := newTestNetwork(t, Config{})
			test.cut(n)
			peers := map[string]*MemPeer{"a": a, "b": b, "c": c}
			for _, p := range peers {
				require.NoError(t, p.Broadcast(newTestMessage(0)))
			}
			for name, p := range peers {
				require.Len(t, drain(p), test.expected[name], "peer %s", name)
			}
		})
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		config   Config
		expected int
	}{
		{
			name:     "drop all",
			detail:   "a drop rate of one loses everything",
			config:   Config{DropRate: 1},
			expected: 0,
		},
		{
			name:     "duplicate all",
			detail:   "a duplicate rate of one delivers every message twice",
			config:   Config{DuplicateRate: 1},
			expected: 20,
		},
		{
			name:     "delayed",
			detail:   "delays reorder but never lose messages",
			config:   Config{MaxDelay: 10 * time.Millisecond, Seed: 3},
			expected: 10,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, a, b, _ := newTestNetwork(t, test.config)
			for round := range uint64(10) {
				require.NoError(t, a.Send(idB, newTestMessage(round)))
			}
			var got []*lib.Message
			require.Eventually(t, func() bool {
				got = append(got, drain(b)...)
				return len(got) == test.expected
			}, time.Second, 5*time.Millisecond)
			// nothing more arrives
			time.Sleep(30 * time.Millisecond)
			require.Empty(t, drain(b))
		})
	}
}

func TestInboxFull(t *testing.T) {
	n := NewMemNetwork(Config{}, lib.NewNullLogger())
	defer n.Close()
	a, b := n.Join(idA, 1), n.Join(idB, 1)
	require.NoError(t, a.Send(idB, newTestMessage(0)))
	// the second message is dropped rather than blocking the sender
	require.NoError(t, a.Send(idB, newTestMessage(1)))
	got := drain(b)
	require.Len(t, got, 1)
	require.Zero(t, got[0].Vote.Round)
}

func TestClose(t *testing.T) {
	n, a, b, _ := newTestNetwork(t, Config{})
	n.Close()
	_, open := <-b.Inbound()
	require.False(t, open)
	err := a.Broadcast(newTestMessage(0))
	require.Error(t, err)
	require.Equal(t, lib.CodeNetworkClosed, err.Code())
	err = a.Send(idB, newTestMessage(0))
	require.Error(t, err)
	require.Equal(t, lib.CodeNetworkClosed, err.Code())
	// closing twice is harmless
	n.Close()
}
