package bft

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/canopy-network/accord/wal"
)

// Machine is the agreement state machine for a single height
// Rounds run PROPOSE -> PRE_VOTE -> PRE_COMMIT until a PRE_COMMIT quorum for a value decides the height.
// Not safe for concurrent use: the Engine's event loop is its only caller.
type Machine struct {
	*lib.View                                // the current position (Height/Round/Step)
	Authorities   *lib.AuthoritySet          // the authorities deciding this height
	Votes         *VoteAggregator            // 'votes' received from authorities (including self)
	Lock          *LockTracker               // the value this node may be locked on
	Proposals     map[uint64]*lib.Proposal   // the first valid proposal received per round
	Values        map[string][]byte          // proposed or certified values by their hash
	validity      map[string]bool            // executor verdicts by value hash
	PendingCommit *lib.QuorumCertificate     // a decisive PRE_COMMIT quorum waiting for its value to arrive
	Decision      *Decision                  // the decided value, once committed
	Evidence      *EvidencePool              // equivocation observed at this height
	ownProposals  map[uint64]*lib.Proposal   // proposals signed by self, by round
	ownVotes      map[roundStep]*lib.Vote    // votes signed by self, by round and step
	started       bool                       // round 0 has been entered (live or replayed)
	startedAt     time.Time                  // for commit latency
	config        lib.ConsensusConfig        // round timing and windows
	publicKey     []byte                     // self authority id
	isAuthority   bool                       // false: observe only, never sign
	signer        Signer                     // signs own proposals and votes
	verifier      lib.VerifierI              // verifies others' signatures
	network       Network                    // outbound messages
	executor      Executor                   // produces and validates values
	wal           wal.Log                    // write-ahead of everything self signs
	timeouts      *TimeoutManager            // step timers
	leader        LeaderSelector             // proposer election
	reporter      EvidenceReporter           // optional sink for equivocation
	metrics       *lib.Metrics               // telemetry
	log           lib.LoggerI                // logging
}

// roundStep identifies an own vote within the height
type roundStep struct {
	round uint64
	step  lib.Step
}

// Decision is a committed value with the quorum certificate that decided it
type Decision struct {
	Height uint64                 `json:"height"`
	Round  uint64                 `json:"round"`
	Value  []byte                 `json:"value"`
	QC     *lib.QuorumCertificate `json:"qc"`
}

// State is the coarse phase of a Machine
type State int

const (
	StateAwaitProposal       State = iota // PROPOSE step: waiting on the round's leader
	StateAwaitPreVoteQuorum               // PRE_VOTE cast, waiting for 2f+1 PRE_VOTEs
	StateAwaitPreCommitQuorum             // PRE_COMMIT cast, waiting for 2f+1 PRE_COMMITs
	StateCommitted                        // decided; all input is ignored
)

// String() returns the log string format of State
func (s State) String() string {
	switch s {
	case StateAwaitProposal:
		return "AWAIT_PROPOSAL"
	case StateAwaitPreVoteQuorum:
		return "AWAIT_PRE_VOTE_QUORUM"
	case StateAwaitPreCommitQuorum:
		return "AWAIT_PRE_COMMIT_QUORUM"
	case StateCommitted:
		return "COMMITTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// NewMachine() creates the state machine for a height; it does nothing until Start() or Resume()
func NewMachine(height uint64, authorities *lib.AuthoritySet, c lib.ConsensusConfig, d Dependencies,
	timeouts *TimeoutManager, m *lib.Metrics, l lib.LoggerI) *Machine {
	leader := d.Leader
	if leader == nil {
		leader = DefaultLeaderSelector
	}
	publicKey := d.Signer.PublicKey()
	return &Machine{
		View:         &lib.View{Height: height},
		Authorities:  authorities,
		Votes:        NewVoteAggregator(authorities, d.Verifier, l),
		Lock:         NewLockTracker(height, authorities, d.Verifier),
		Proposals:    make(map[uint64]*lib.Proposal),
		Values:       make(map[string][]byte),
		validity:     make(map[string]bool),
		Evidence:     NewEvidencePool(),
		ownProposals: make(map[uint64]*lib.Proposal),
		ownVotes:     make(map[roundStep]*lib.Vote),
		config:       c,
		publicKey:    publicKey,
		isAuthority:  authorities.Contains(publicKey),
		signer:       d.Signer,
		verifier:     d.Verifier,
		network:      d.Network,
		executor:     d.Executor,
		wal:          d.WAL,
		timeouts:     timeouts,
		leader:       leader,
		reporter:     d.Evidence,
		metrics:      m,
		log:          l,
	}
}

// Start() enters round 0
func (m *Machine) Start() lib.ErrorI {
	if m.started {
		return nil
	}
	m.started, m.startedAt = true, time.Now()
	return m.newRound(0)
}

// Committed() returns true once the height is decided
func (m *Machine) Committed() bool { return m.Decision != nil }

// State() derives the coarse phase from the step
func (m *Machine) State() State {
	switch {
	case m.Committed():
		return StateCommitted
	case m.Step == lib.StepPreCommit:
		return StateAwaitPreCommitQuorum
	case m.Step == lib.StepPreVote:
		return StateAwaitPreVoteQuorum
	default:
		return StateAwaitProposal
	}
}

// Leader() returns the proposer of a round at this height
func (m *Machine) Leader(round uint64) []byte { return m.leader.Leader(m.Height, round, m.Authorities) }

// IsLeader() returns true if self proposes the round
func (m *Machine) IsLeader(round uint64) bool {
	return m.isAuthority && bytes.Equal(m.Leader(round), m.publicKey)
}

// ROUNDS

// enterRound() moves forward to a later round; it never moves backwards
func (m *Machine) enterRound(round uint64, reason string) lib.ErrorI {
	if m.Committed() || round <= m.Round {
		return nil
	}
	m.log.Infof("Round change %d -> %d at height %d (%s)", m.Round, round, m.Height, reason)
	m.metrics.RoundChange(reason)
	return m.newRound(round)
}

// newRound() begins a round:
// - persist the round change
// - reset to PROPOSE and arm the timer
// - propose if leader, otherwise pre-vote an already received proposal
// - act on quorums that formed for this round before arriving at it
func (m *Machine) newRound(round uint64) lib.ErrorI {
	if err := m.persist(&wal.Record{Kind: wal.KindRoundChange, Height: m.Height, Round: round}); err != nil {
		// retry once the current step times out again
		m.timeouts.Schedule(m.Height, m.Round, m.Step)
		return err
	}
	m.Round, m.Step = round, lib.StepPropose
	m.metrics.UpdateView(m.Height, m.Round)
	m.timeouts.Schedule(m.Height, m.Round, m.Step)
	if m.IsLeader(round) {
		if err := m.propose(); err != nil {
			m.log.Errorf("Failed to propose at %s: %s", m.View.ToString(), err.Error())
		}
	}
	if p, found := m.Proposals[round]; found && m.Step == lib.StepPropose {
		if err := m.prevote(p); err != nil {
			return err
		}
	}
	return m.catchUp()
}

// catchUp() processes quorum certificates the aggregator formed for the current round before it was entered
func (m *Machine) catchUp() lib.ErrorI {
	if qc := m.Votes.Certificate(m.Height, m.Round, lib.StepPreVote); qc != nil {
		if err := m.onPreVoteQuorum(qc); err != nil {
			return err
		}
	}
	if qc := m.Votes.Certificate(m.Height, m.Round, lib.StepPreCommit); qc != nil && qc.IsNil() {
		return m.enterRound(m.Round+1, "nil_precommit")
	}
	return nil
}

// OnTimeout() handles a fired timer; stale timers (any other position) are ignored
func (m *Machine) OnTimeout(t TimeoutInfo) lib.ErrorI {
	if m.Committed() || !t.View().Equals(m.View) {
		return nil
	}
	m.log.Warnf("%s expired", t)
	return m.enterRound(m.Round+1, "timeout")
}

// PROPOSALS

// propose() signs and sends the leader's proposal for the current round:
// a locked leader re-proposes its locked value with the lock's PoLC, otherwise the executor produces a value
func (m *Machine) propose() lib.ErrorI {
	if p, found := m.ownProposals[m.Round]; found {
		m.broadcast(&lib.Message{Proposal: p})
		return nil
	}
	var (
		value []byte
		polc  *lib.QuorumCertificate
	)
	if lock := m.Lock.Current(); lock != nil && lock.Round < m.Round {
		value, polc = lock.Value, lock.PoLC
	} else {
		v, err := m.executor.Propose(m.Height)
		if err != nil {
			return ErrPropose(err)
		}
		value = v
	}
	p := &lib.Proposal{
		Height:    m.Height,
		Round:     m.Round,
		Value:     value,
		ValueHash: crypto.Hash(value),
		PoLC:      polc,
		Proposer:  m.publicKey,
	}
	sig, err := m.signer.Sign(p.SignBytes())
	if err != nil {
		return ErrSign(err)
	}
	p.Signature = sig
	if e := m.persist(&wal.Record{Kind: wal.KindProposal, Height: m.Height, Round: m.Round, Proposal: p}); e != nil {
		return e
	}
	m.ownProposals[m.Round] = p
	m.metrics.Proposed()
	m.log.Infof("Proposing %s", p)
	m.broadcast(&lib.Message{Proposal: p})
	return m.OnProposal(p)
}

// OnProposal() validates and stores a leader's proposal, pre-voting if it is for the current round
func (m *Machine) OnProposal(p *lib.Proposal) lib.ErrorI {
	if m.Committed() {
		return nil
	}
	if err := p.CheckBasic(); err != nil {
		return err
	}
	if p.Height != m.Height {
		return ErrWrongHeight(p.Height, m.Height)
	}
	if p.Round < m.Round {
		// a late proposal is only useful to supply the value of a decisive quorum
		if m.PendingCommit != nil && bytes.Equal(m.PendingCommit.ValueHash, p.ValueHash) {
			m.rememberValue(p.Value)
			return m.tryPendingCommit()
		}
		m.log.Debugf("Ignoring stale %s", p)
		return nil
	}
	if p.Round > m.Round+m.config.FutureRoundGap {
		return ErrFarFutureRound(p.Round, m.Round)
	}
	if leader := m.Leader(p.Round); !bytes.Equal(leader, p.Proposer) {
		return ErrInvalidProposer(p.Proposer, leader)
	}
	if err := p.Verify(m.verifier); err != nil {
		return err
	}
	if p.PoLC != nil {
		if err := p.PoLC.Check(m.Authorities, m.verifier); err != nil {
			return lib.ErrInvalidPoLC(err.Error())
		}
	}
	if existing, found := m.Proposals[p.Round]; found {
		if !bytes.Equal(existing.ValueHash, p.ValueHash) {
			m.report(&Evidence{DoubleProposal: &DoubleProposalEvidence{ProposalA: existing, ProposalB: p}})
		}
		return nil
	}
	m.rememberValue(p.Value)
	m.Proposals[p.Round] = p
	if err := m.tryPendingCommit(); err != nil || m.Committed() {
		return err
	}
	if p.Round == m.Round && m.Step == lib.StepPropose {
		return m.prevote(p)
	}
	return nil
}

// prevote() casts the PRE_VOTE for a proposal at the current round:
// - an invalid value gets a nil vote
// - a valid PoLC above the lock moves the lock first
// - the value gets the vote only if the lock permits it
func (m *Machine) prevote(p *lib.Proposal) lib.ErrorI {
	var hash []byte
	switch {
	case !m.isValid(p.ValueHash, p.Value):
		m.log.Warnf("Executor rejected value of %s", p)
	default:
		if p.PoLC != nil {
			if err := m.lockOn(p.PoLC.Round, p.Value, p.PoLC); err != nil {
				return err
			}
		}
		if err := m.Lock.SafeNode(p); err != nil {
			m.log.Infof("Not voting for %s: %s", p, err.Error())
			break
		}
		hash = p.ValueHash
	}
	return m.castVote(lib.StepPreVote, hash)
}

// VOTES

// castVote() signs, persists and sends a vote for the current round, then counts it
// At most one vote is ever signed per (round, step); a repeat re-sends the recorded vote
// The step only advances once the vote is logged: on failure the timer of the current step is still armed and
// changes the round
func (m *Machine) castVote(step lib.Step, hash []byte) lib.ErrorI {
	if !m.isAuthority {
		m.enterStep(step)
		return nil
	}
	key := roundStep{m.Round, step}
	vote, found := m.ownVotes[key]
	if !found {
		vote = &lib.Vote{Height: m.Height, Round: m.Round, Step: step, ValueHash: hash, Voter: m.publicKey}
		sig, err := m.signer.Sign(vote.SignBytes())
		if err != nil {
			return ErrSign(err)
		}
		vote.Signature = sig
		if e := m.persist(&wal.Record{Kind: wal.KindVote, Height: m.Height, Round: m.Round, Vote: vote}); e != nil {
			return e
		}
		m.ownVotes[key] = vote
	}
	m.enterStep(step)
	m.log.Debugf("Voting %s", vote)
	m.broadcast(&lib.Message{Vote: vote})
	return m.OnVote(vote)
}

// enterStep() advances the step within the round and arms its timer
func (m *Machine) enterStep(step lib.Step) {
	m.Step = step
	m.timeouts.Schedule(m.Height, m.Round, step)
}

// OnVote() counts a vote and acts on the outcome
func (m *Machine) OnVote(v *lib.Vote) lib.ErrorI {
	if m.Committed() {
		return nil
	}
	if v.Height != m.Height {
		return ErrWrongHeight(v.Height, m.Height)
	}
	if v.Round > m.Round+m.config.FutureRoundGap {
		return ErrFarFutureRound(v.Round, m.Round)
	}
	result, err := m.Votes.AddVote(v)
	if err != nil {
		return err
	}
	switch result.Status {
	case Equivocation:
		m.report(&Evidence{DoubleSign: result.Evidence})
	case Quorum:
		return m.onQuorum(result.QC)
	case Pending:
		// f+1 weight at a later round includes a correct authority, so the round is worth joining
		if v.Round > m.Round && m.Authorities.HasOneThird(m.Votes.RoundWeight(m.Height, v.Round)) {
			return m.enterRound(v.Round, "round_skip")
		}
	}
	return nil
}

// onQuorum() acts on a newly formed quorum certificate
func (m *Machine) onQuorum(qc *lib.QuorumCertificate) lib.ErrorI {
	m.log.Debugf("Quorum %s", qc)
	switch qc.Step {
	case lib.StepPreCommit:
		if !qc.IsNil() {
			return m.tryCommit(qc)
		}
		if qc.Round >= m.Round {
			return m.enterRound(qc.Round+1, "nil_precommit")
		}
	case lib.StepPreVote:
		switch {
		case qc.Round > m.Round:
			// entering the round processes the certificate through catchUp()
			return m.enterRound(qc.Round, "round_skip")
		case qc.Round == m.Round:
			return m.onPreVoteQuorum(qc)
		}
	}
	return nil
}

// onPreVoteQuorum() locks on a certified value that is known and valid and PRE_COMMITs it; anything else gets a
// nil PRE_COMMIT
func (m *Machine) onPreVoteQuorum(qc *lib.QuorumCertificate) lib.ErrorI {
	if qc.Round != m.Round || m.Step >= lib.StepPreCommit {
		return nil
	}
	var hash []byte
	value, known := m.Values[string(qc.ValueHash)]
	switch {
	case qc.IsNil() || !known:
		// nothing to lock on
	case !m.isValid(qc.ValueHash, value):
		m.log.Warnf("Not locking on %s: the executor rejected its value", qc)
	default:
		if err := m.lockOn(qc.Round, value, qc); err != nil {
			return err
		}
		if lock := m.Lock.Current(); lock != nil && bytes.Equal(lock.ValueHash, qc.ValueHash) {
			hash = qc.ValueHash
		}
	}
	return m.castVote(lib.StepPreCommit, hash)
}

// lockOn() moves the lock if the tracker accepts the candidate, persisting it first
func (m *Machine) lockOn(round uint64, value []byte, polc *lib.QuorumCertificate) lib.ErrorI {
	if !m.Lock.Accepts(round, value, polc) {
		return nil
	}
	if err := m.persist(&wal.Record{Kind: wal.KindLock, Height: m.Height, Round: round, Value: value, QC: polc}); err != nil {
		return err
	}
	m.Lock.Update(round, value, polc)
	m.log.Infof("🔒 Locked on %s at round %d", lib.BytesToTruncatedString(polc.ValueHash), round)
	return nil
}

// COMMIT

// tryCommit() commits a decisive quorum, or holds it until its value is known
func (m *Machine) tryCommit(qc *lib.QuorumCertificate) lib.ErrorI {
	value, known := m.Values[string(qc.ValueHash)]
	if !known {
		m.log.Infof("Holding %s until its value arrives", qc)
		m.PendingCommit = qc
		return nil
	}
	return m.commit(value, qc)
}

// tryPendingCommit() commits the held quorum if its value has arrived
func (m *Machine) tryPendingCommit() lib.ErrorI {
	if m.PendingCommit == nil {
		return nil
	}
	return m.tryCommit(m.PendingCommit)
}

// OnCommitCertificate() decides the height directly from a verified PRE_COMMIT quorum and its value
func (m *Machine) OnCommitCertificate(c *lib.CommitCertificate) lib.ErrorI {
	if m.Committed() {
		return nil
	}
	if err := c.CheckBasic(); err != nil {
		return err
	}
	if c.QC.Height != m.Height {
		return ErrWrongHeight(c.QC.Height, m.Height)
	}
	if err := c.QC.Check(m.Authorities, m.verifier); err != nil {
		return err
	}
	m.rememberValue(c.Value)
	return m.commit(c.Value, c.QC)
}

// commit() persists and exposes the decision, then shares the certificate with the other authorities
func (m *Machine) commit(value []byte, qc *lib.QuorumCertificate) lib.ErrorI {
	if err := m.persist(&wal.Record{Kind: wal.KindCommit, Height: m.Height, Round: qc.Round, Value: value, QC: qc}); err != nil {
		return err
	}
	m.Step, m.PendingCommit = lib.StepCommit, nil
	m.Decision = &Decision{Height: m.Height, Round: qc.Round, Value: value, QC: qc}
	m.timeouts.Cancel(m.Height)
	if !m.startedAt.IsZero() {
		m.metrics.Committed(time.Since(m.startedAt))
	}
	m.log.Infof("✅ Committed %s at height %d round %d", lib.BytesToTruncatedString(qc.ValueHash), m.Height, qc.Round)
	m.broadcast(&lib.Message{Commit: m.CommitCertificate()})
	return nil
}

// CommitCertificate() returns the proof of the decision, nil if undecided
func (m *Machine) CommitCertificate() *lib.CommitCertificate {
	if m.Decision == nil {
		return nil
	}
	return &lib.CommitCertificate{Value: m.Decision.Value, QC: m.Decision.QC}
}

// HELPERS

// rememberValue() indexes a value by its hash
func (m *Machine) rememberValue(value []byte) { m.Values[string(crypto.Hash(value))] = value }

// isValid() asks the executor about a value once and remembers the verdict
func (m *Machine) isValid(hash, value []byte) bool {
	valid, found := m.validity[string(hash)]
	if !found {
		valid = m.executor.Validate(m.Height, value)
		m.validity[string(hash)] = valid
	}
	return valid
}

// persist() appends to the write-ahead log; nothing self-signed leaves the node before this returns
func (m *Machine) persist(r *wal.Record) lib.ErrorI { return m.wal.Append(r) }

// broadcast() sends to all authorities; delivery failures are recovered by timeouts and retransmission
func (m *Machine) broadcast(msg *lib.Message) {
	if err := m.network.Broadcast(msg); err != nil {
		m.log.Warnf("Broadcast of %s failed: %s", msg, err.Error())
	}
}

// report() records new equivocation and forwards it
func (m *Machine) report(e *Evidence) {
	if !m.Evidence.Add(e) {
		return
	}
	m.log.Warnf("Byzantine %s", e)
	m.metrics.Equivocation(e.Kind())
	if m.reporter != nil {
		m.reporter.ReportEvidence(e)
	}
}

// Snapshot is the part of a Machine that survives a crash
type Snapshot struct {
	Height       uint64          `json:"height"`
	Round        uint64          `json:"round"`
	Step         lib.Step        `json:"step"`
	Lock         *Lock           `json:"lock,omitempty"`
	OwnProposals []*lib.Proposal `json:"ownProposals,omitempty"`
	OwnVotes     []*lib.Vote     `json:"ownVotes,omitempty"`
	Decision     *Decision       `json:"decision,omitempty"`
}

// Snapshot() returns the recoverable state, ordered by round then step
func (m *Machine) Snapshot() *Snapshot {
	s := &Snapshot{Height: m.Height, Round: m.Round, Step: m.Step, Lock: m.Lock.Current(), Decision: m.Decision}
	for _, p := range m.ownProposals {
		s.OwnProposals = append(s.OwnProposals, p)
	}
	for _, v := range m.ownVotes {
		s.OwnVotes = append(s.OwnVotes, v)
	}
	slices.SortFunc(s.OwnProposals, func(a, b *lib.Proposal) int { return cmp.Compare(a.Round, b.Round) })
	slices.SortFunc(s.OwnVotes, func(a, b *lib.Vote) int {
		return cmp.Or(cmp.Compare(a.Round, b.Round), cmp.Compare(a.Step, b.Step))
	})
	return s
}
