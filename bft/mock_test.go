package bft

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/canopy-network/accord/wal"
	"github.com/stretchr/testify/require"
)

const testHeight = 1

// testMachine is a Machine for authority 'self' of a deterministic authority set, wired to mocks
// With weighted round-robin and equal weights the leader of (height 1, round r) is authority (1+r) mod n
type testMachine struct {
	*Machine
	signers  []*crypto.Ed25519Signer
	network  *mockNetwork
	executor *mockExecutor
	reporter *mockReporter
	wal      wal.Log
	timeouts *TimeoutManager
}

// newTestMachine() creates the machine for authority self; a negative self is an observer outside the set
func newTestMachine(t *testing.T, numAuthorities, self int) *testMachine {
	signers := newTestSigners(t, numAuthorities)
	log := lib.NewNullLogger()
	recovery, err := wal.NewInMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = recovery.Close() })
	return newTestMachineWithLog(t, signers, self, recovery)
}

func newTestMachineWithLog(t *testing.T, signers []*crypto.Ed25519Signer, self int, recovery wal.Log) *testMachine {
	log := lib.NewNullLogger()
	timeouts := NewTimeoutManager(LinearSchedule{Base: time.Hour}, log)
	t.Cleanup(timeouts.Stop)
	var signer Signer
	if self < 0 {
		signer = newTestSigner(t, "observer")
	} else {
		signer = signers[self]
	}
	tm := &testMachine{
		signers:  signers,
		network:  newMockNetwork(),
		executor: newMockExecutor(),
		reporter: new(mockReporter),
		wal:      recovery,
		timeouts: timeouts,
	}
	tm.Machine = NewMachine(testHeight, newTestSet(t, signers), lib.DefaultConsensusConfig(), Dependencies{
		Signer:   signer,
		Verifier: crypto.Ed25519Verifier{},
		Network:  tm.network,
		Executor: tm.executor,
		Evidence: tm.reporter,
		WAL:      recovery,
	}, timeouts, nil, log)
	return tm
}

// vote() returns a vote signed by authority i
func (tm *testMachine) vote(i int, round uint64, step lib.Step, hash []byte) *lib.Vote {
	return newTestVote(tm.signers[i], testHeight, round, step, hash)
}

// deliverVotes() feeds votes from each authority to the machine
func (tm *testMachine) deliverVotes(t *testing.T, round uint64, step lib.Step, hash []byte, voters ...int) {
	for _, i := range voters {
		require.NoError(t, tm.OnVote(tm.vote(i, round, step, hash)))
	}
}

// qc() builds a quorum certificate from votes of the given authorities
func (tm *testMachine) qc(round uint64, step lib.Step, hash []byte, voters ...int) *lib.QuorumCertificate {
	votes := make([]*lib.Vote, 0, len(voters))
	for _, i := range voters {
		votes = append(votes, tm.vote(i, round, step, hash))
	}
	return lib.NewQuorumCertificate(votes)
}

// proposal() returns a proposal signed by the round's leader
func (tm *testMachine) proposal(round uint64, value []byte, polc *lib.QuorumCertificate) *lib.Proposal {
	return tm.proposalBy(tm.leaderIndex(round), round, value, polc)
}

// proposalBy() returns a proposal signed by authority i
func (tm *testMachine) proposalBy(i int, round uint64, value []byte, polc *lib.QuorumCertificate) *lib.Proposal {
	return newTestProposal(tm.signers[i], testHeight, round, value, polc)
}

// leaderIndex() returns the index of the round's leader
func (tm *testMachine) leaderIndex(round uint64) int {
	leader := tm.Leader(round)
	for i, s := range tm.signers {
		if bytes.Equal(s.PublicKey(), leader) {
			return i
		}
	}
	panic("leader not in the authority set")
}

// ownVote() returns the vote self cast at (round, step), nil if none
func (tm *testMachine) ownVote(round uint64, step lib.Step) *lib.Vote { return tm.ownVotes[roundStep{round, step}] }

// records() returns the machine's recovery log
func (tm *testMachine) records(t *testing.T) []*wal.Record {
	records, err := tm.wal.Records()
	require.NoError(t, err)
	return records
}

func newTestSigner(t *testing.T, label string) *crypto.Ed25519Signer {
	pk, err := crypto.DeriveEd25519PrivateKey([]byte("accord test keys"), label)
	require.NoError(t, err)
	return crypto.NewEd25519Signer(pk)
}

func newTestSigners(t *testing.T, n int) []*crypto.Ed25519Signer {
	signers := make([]*crypto.Ed25519Signer, n)
	for i := range signers {
		signers[i] = newTestSigner(t, fmt.Sprintf("authority-%d", i))
	}
	return signers
}

// newTestSet() creates an equally weighted authority set in signer order
func newTestSet(t *testing.T, signers []*crypto.Ed25519Signer) *lib.AuthoritySet {
	authorities := make([]*lib.Authority, len(signers))
	for i, s := range signers {
		authorities[i] = &lib.Authority{PublicKey: s.PublicKey(), Weight: 1}
	}
	set, err := lib.NewAuthoritySet(authorities)
	require.NoError(t, err)
	return set
}

func newTestVote(signer Signer, height, round uint64, step lib.Step, hash []byte) *lib.Vote {
	v := &lib.Vote{Height: height, Round: round, Step: step, ValueHash: hash, Voter: signer.PublicKey()}
	v.Signature, _ = signer.Sign(v.SignBytes())
	return v
}

func newTestProposal(signer Signer, height, round uint64, value []byte, polc *lib.QuorumCertificate) *lib.Proposal {
	p := &lib.Proposal{
		Height:    height,
		Round:     round,
		Value:     value,
		ValueHash: crypto.Hash(value),
		PoLC:      polc,
		Proposer:  signer.PublicKey(),
	}
	p.Signature, _ = signer.Sign(p.SignBytes())
	return p
}

// mockNetwork records outbound messages
type mockNetwork struct {
	mu     sync.Mutex
	sent   []*lib.Message
	direct map[string][]*lib.Message
	inbox  chan *lib.Message
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{direct: make(map[string][]*lib.Message), inbox: make(chan *lib.Message, 100)}
}

func (n *mockNetwork) Broadcast(msg *lib.Message) lib.ErrorI {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *mockNetwork) Send(to []byte, msg *lib.Message) lib.ErrorI {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct[string(to)] = append(n.direct[string(to)], msg)
	return nil
}

func (n *mockNetwork) Inbound() <-chan *lib.Message { return n.inbox }

// broadcasts() returns the broadcast messages that match the filter
func (n *mockNetwork) broadcasts(filter func(*lib.Message) bool) (msgs []*lib.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, msg := range n.sent {
		if filter(msg) {
			msgs = append(msgs, msg)
		}
	}
	return
}

func (n *mockNetwork) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

func isProposal(msg *lib.Message) bool { return msg.Proposal != nil }
func isVote(msg *lib.Message) bool     { return msg.Vote != nil }
func isCommit(msg *lib.Message) bool   { return msg.Commit != nil }

// mockExecutor proposes numbered values, rejects values marked invalid and records commits
type mockExecutor struct {
	mu        sync.Mutex
	proposed  int
	invalid   map[string]bool
	validated map[string]int
	committed map[uint64][]byte
	failures  int // commits to refuse before accepting
	commitCh  chan uint64
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		invalid:   make(map[string]bool),
		validated: make(map[string]int),
		committed: make(map[uint64][]byte),
		commitCh:  make(chan uint64, 100),
	}
}

func (x *mockExecutor) Propose(height uint64) ([]byte, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.proposed++
	return []byte(fmt.Sprintf("value %d/%d", height, x.proposed)), nil
}

func (x *mockExecutor) Validate(_ uint64, value []byte) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.validated[string(value)]++
	return !x.invalid[string(value)]
}

// validations() returns how many times value was validated
func (x *mockExecutor) validations(value []byte) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.validated[string(value)]
}

func (x *mockExecutor) Commit(_ context.Context, height uint64, value []byte, _ *lib.QuorumCertificate) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.failures > 0 {
		x.failures--
		return errors.New("executor busy")
	}
	x.committed[height] = value
	select {
	case x.commitCh <- height:
	default:
	}
	return nil
}

func (x *mockExecutor) get(height uint64) []byte {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.committed[height]
}

// mockReporter records evidence
type mockReporter struct {
	mu       sync.Mutex
	evidence []*Evidence
}

func (r *mockReporter) ReportEvidence(e *Evidence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evidence = append(r.evidence, e)
}

func (r *mockReporter) list() []*Evidence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Evidence(nil), r.evidence...)
}

// failingLog is a recovery log that refuses appends while fail is set
type failingLog struct {
	wal.Log
	fail bool
}

func (f *failingLog) Append(r *wal.Record) lib.ErrorI {
	if f.fail {
		return lib.ErrAppendRecord(errors.New("disk full"))
	}
	return f.Log.Append(r)
}
