package bft

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/canopy-network/accord/wal"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

/*
	ENGINE CONCURRENCY:

		network.Inbound() ──> verify pool (errgroup, VerifyWorkers) ──> verified ──┐
		                                                                          ├──> event loop ──> Machine
		timeouts.Chan() ──────────────────────────────────────────────────────────┘

	Only the event loop touches the Machine. Heights are decided strictly in sequence: a new Machine is created
	after the previous decision is delivered to the executor and dropped from the recovery log.
*/

// Dependencies are the capabilities the engine is built from
type Dependencies struct {
	Signer      Signer            // this node's key
	Verifier    lib.VerifierI     // signature verification
	Network     Network           // transport to the other authorities
	Executor    Executor          // produces, validates and applies values
	Authorities AuthorityProvider // the authority set of each height
	Evidence    EvidenceReporter  // optional; receives equivocation proof
	WAL         wal.Log           // crash-recovery log
	Leader      LeaderSelector    // optional; DefaultLeaderSelector if nil
}

// Status is a point-in-time view of the engine, safe to read from any goroutine
type Status struct {
	Height     uint64   `json:"height"`
	Round      uint64   `json:"round"`
	Step       lib.Step `json:"step"`
	State      string   `json:"state"`
	Lock       *Lock    `json:"lock,omitempty"`
	LastCommit uint64   `json:"lastCommit"`
	Buffered   int      `json:"buffered"`
}

// Engine drives Machines height after height
type Engine struct {
	machine    *Machine                     // the active height
	lastCommit *lib.CommitCertificate       // proof of the previous height, sent to lagging authorities
	future     *FutureBuffer                // messages for upcoming heights
	verifier   *CachingVerifier             // shared by the verify pool and the machines
	seen       *lru.Cache[string, struct{}] // digests of recently received messages
	timeouts   *TimeoutManager              // step timers
	verified   chan *lib.Message            // pre-verified messages waiting for the event loop
	status     atomic.Pointer[Status]       // published after every event
	deps       Dependencies
	config     lib.ConsensusConfig
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	err        error
	errOnce    sync.Once
	metrics    *lib.Metrics
	log        lib.LoggerI
}

// New() creates an engine; nothing runs until Start()
func New(c lib.Config, d Dependencies, m *lib.Metrics, l lib.LoggerI) *Engine {
	cc := c.ConsensusConfig
	seen, _ := lru.New[string, struct{}](max(cc.SeenCacheSize, 1))
	verifier := NewCachingVerifier(d.Verifier, cc.SignatureCacheSize)
	d.Verifier = verifier
	if d.Leader == nil {
		d.Leader = DefaultLeaderSelector
	}
	return &Engine{
		future:   NewFutureBuffer(cc.FutureBufferSize),
		verifier: verifier,
		seen:     seen,
		timeouts: NewTimeoutManager(NewTimeoutSchedule(cc), l),
		verified: make(chan *lib.Message, max(cc.InboundQueueSize, 1)),
		deps:     d,
		config:   cc,
		metrics:  m,
		log:      l,
	}
}

// Start() recovers the height from the log and launches the verify pool and the event loop
// Records below height were already committed and are dropped; records above it mean the log is corrupt
func (e *Engine) Start(ctx context.Context, height uint64) lib.ErrorI {
	records, err := e.deps.WAL.Records()
	if err != nil {
		return err
	}
	var current []*wal.Record
	for _, r := range records {
		switch {
		case r.Height > height:
			return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s is above the start height %d", r, height))
		case r.Height == height:
			current = append(current, r)
		}
	}
	if height > 0 && len(current) != len(records) {
		if err = e.deps.WAL.Truncate(height - 1); err != nil {
			return err
		}
	}
	machine, err := e.newMachine(height)
	if err != nil {
		return err
	}
	e.machine = machine
	if err = machine.Resume(current); err != nil {
		return err
	}
	e.publishStatus()
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.verifyLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		defer lib.CatchPanic(e.log)
		e.fail(e.run(ctx))
	}()
	return nil
}

// Stop() halts the engine and returns the error that ended it, if any
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.timeouts.Stop()
	return e.err
}

// Status() returns the latest published status
func (e *Engine) Status() Status {
	if s := e.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

// fail() records the first error that stops the engine
func (e *Engine) fail(err error) {
	if err == nil {
		return
	}
	e.errOnce.Do(func() {
		e.log.Errorf("Engine halted: %s", err.Error())
		e.err = err
	})
}

// newMachine() builds the state machine for a height with its authority set
func (e *Engine) newMachine(height uint64) (*Machine, lib.ErrorI) {
	set, err := e.deps.Authorities.Authorities(height)
	if err != nil {
		return nil, ErrAuthorityProvider(height, err)
	}
	m := NewMachine(height, set, e.config, e.deps, e.timeouts, e.metrics, e.log)
	if !m.isAuthority {
		e.log.Warnf("Observing height %d: %s", height, ErrNotAnAuthority().Error())
	}
	return m, nil
}

// EVENT LOOP

// run() is the single consumer of verified messages and timeouts
func (e *Engine) run(ctx context.Context) error {
	for {
		if err := e.finalize(ctx); err != nil {
			return err
		}
		e.publishStatus()
		select {
		case <-ctx.Done():
			return nil
		case msg := <-e.verified:
			e.handle(msg)
		case t := <-e.timeouts.Chan():
			if err := e.machine.OnTimeout(t); err != nil {
				e.log.Errorf("Round change failed: %s", err.Error())
			}
		}
	}
}

// handle() routes a message by its height
func (e *Engine) handle(msg *lib.Message) {
	height, current := msg.Height(), e.machine.Height
	switch {
	case height == current:
		e.route(msg)
	case height > current+e.config.FutureHeightGap:
		e.metrics.Dropped("far_future")
	case height > current:
		switch {
		case !e.fromAuthority(msg):
			e.metrics.Dropped("future_outsider")
		case !e.future.Add(msg):
			e.metrics.Dropped("future_full")
		}
	case height+1 == current && e.lastCommit != nil && msg.Commit == nil:
		// the sender is still deciding the height this node just finished
		if err := e.deps.Network.Send(msg.Sender(), &lib.Message{Commit: e.lastCommit}); err != nil {
			e.log.Debugf("Catch-up send failed: %s", err.Error())
		}
	default:
		e.metrics.Dropped("stale")
	}
}

// fromAuthority() returns true if a future message was signed by the authorities of its height
// A commit certificate qualifies only with a quorum of them
func (e *Engine) fromAuthority(msg *lib.Message) bool {
	set, err := e.deps.Authorities.Authorities(msg.Height())
	if err != nil {
		return false
	}
	if msg.Commit != nil {
		return msg.Commit.QC.Check(set, e.verifier) == nil
	}
	return set.Contains(msg.Sender())
}

// route() delivers a message for the active height to the machine
func (e *Engine) route(msg *lib.Message) {
	var err lib.ErrorI
	switch {
	case msg.Proposal != nil:
		err = e.machine.OnProposal(msg.Proposal)
	case msg.Vote != nil:
		err = e.machine.OnVote(msg.Vote)
	case msg.Commit != nil:
		err = e.machine.OnCommitCertificate(msg.Commit)
	}
	if err != nil {
		e.metrics.Dropped("rejected")
		e.log.Warnf("Rejected %s: %s", msg, err.Error())
	}
}

// finalize() delivers every pending decision and advances the height
// - the executor commit is retried with exponential backoff until accepted or the context ends
// - the recovery log is truncated through the decided height
// - the next Machine starts and receives the messages buffered for it
func (e *Engine) finalize(ctx context.Context) error {
	for e.machine.Committed() {
		d := e.machine.Decision
		if err := e.deliver(ctx, d); err != nil {
			return err
		}
		e.lastCommit = e.machine.CommitCertificate()
		if err := e.deps.WAL.Truncate(d.Height); err != nil {
			e.log.Errorf("Failed to truncate the recovery log: %s", err.Error())
		}
		e.timeouts.Cancel(d.Height)
		e.machine.Votes.Prune(d.Height)
		next, err := e.newMachine(d.Height + 1)
		if err != nil {
			return err
		}
		e.machine = next
		if err = next.Start(); err != nil {
			e.log.Errorf("Failed to start height %d: %s", next.Height, err.Error())
		}
		for _, msg := range e.future.Take(next.Height) {
			e.route(msg)
		}
	}
	return nil
}

// deliver() hands a decision to the executor
func (e *Engine) deliver(ctx context.Context, d *Decision) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Duration(e.config.CommitRetryMaxMS) * time.Millisecond
	b.MaxElapsedTime = time.Duration(e.config.CommitRetryTimeoutS) * time.Second
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := e.deps.Executor.Commit(ctx, d.Height, d.Value, d.QC); err != nil {
			e.log.Warnf("Commit of height %d failed (attempt %d): %s", d.Height, attempt, err.Error())
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return ErrCommit(err)
	}
	return nil
}

// publishStatus() snapshots the active height for Status()
func (e *Engine) publishStatus() {
	m := e.machine
	s := &Status{
		Height:   m.Height,
		Round:    m.Round,
		Step:     m.Step,
		State:    m.State().String(),
		Lock:     m.Lock.Current(),
		Buffered: e.future.Len(),
	}
	if e.lastCommit != nil {
		s.LastCommit = e.lastCommit.QC.Height
	}
	e.status.Store(s)
}

// VERIFICATION

// verifyLoop() filters duplicates and checks signatures concurrently before handing messages to the event loop
// Authority membership is checked later by the Machine against the right height's set
func (e *Engine) verifyLoop(ctx context.Context) {
	g := new(errgroup.Group)
	g.SetLimit(max(e.config.VerifyWorkers, 1))
	defer func() { _ = g.Wait() }()
	inbound := e.deps.Network.Inbound()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if seen, _ := e.seen.ContainsOrAdd(string(crypto.Hash(msg.Marshal())), struct{}{}); seen {
				e.metrics.Dropped("duplicate")
				continue
			}
			g.Go(func() error {
				if err := e.preverify(msg); err != nil {
					e.metrics.Dropped("invalid")
					e.log.Debugf("Dropped %s: %s", msg, err.Error())
					return nil
				}
				select {
				case e.verified <- msg:
				case <-ctx.Done():
				}
				return nil
			})
		}
	}
}

// preverify() checks the message shape and every signature it carries; results are cached for the Machine
func (e *Engine) preverify(msg *lib.Message) lib.ErrorI {
	if err := msg.CheckBasic(); err != nil {
		return err
	}
	switch {
	case msg.Proposal != nil:
		if err := msg.Proposal.Verify(e.verifier); err != nil {
			return err
		}
		if msg.Proposal.PoLC != nil {
			return verifyVotes(msg.Proposal.PoLC, e.verifier)
		}
	case msg.Vote != nil:
		return msg.Vote.Verify(e.verifier)
	case msg.Commit != nil:
		return verifyVotes(msg.Commit.QC, e.verifier)
	}
	return nil
}

// verifyVotes() checks the signature of every vote in a certificate
func verifyVotes(qc *lib.QuorumCertificate, verifier lib.VerifierI) lib.ErrorI {
	for _, v := range qc.Votes {
		if err := v.Verify(verifier); err != nil {
			return err
		}
	}
	return nil
}
