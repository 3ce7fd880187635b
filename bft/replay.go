package bft

import (
	"bytes"
	"fmt"
	"time"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/canopy-network/accord/wal"
)

// CRASH RECOVERY

// NOTE: Only what the node itself signed or decided is logged. Replaying those records restores the round, step,
// lock, own messages and decision so a restarted authority never signs two different messages for one position.
// Messages from others are not logged; they are re-received through retransmission.

// Replay() folds the height's records into the machine without sending, signing or arming anything
func (m *Machine) Replay(records []*wal.Record) lib.ErrorI {
	for _, r := range records {
		if err := m.replay(r); err != nil {
			return err
		}
	}
	return nil
}

// replay() applies a single record
func (m *Machine) replay(r *wal.Record) lib.ErrorI {
	if err := r.CheckBasic(); err != nil {
		return err
	}
	if r.Height != m.Height {
		return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s replayed at height %d", r, m.Height))
	}
	if m.Committed() {
		return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s follows the decision", r))
	}
	if r.Kind != wal.KindRoundChange && !m.started {
		return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s precedes round 0", r))
	}
	switch r.Kind {
	case wal.KindRoundChange:
		if m.started && r.Round <= m.Round {
			return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s does not advance round %d", r, m.Round))
		}
		m.started, m.Round, m.Step = true, r.Round, lib.StepPropose
	case wal.KindProposal:
		if r.Round != m.Round {
			return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s outside round %d", r, m.Round))
		}
		m.ownProposals[r.Round], m.Proposals[r.Round] = r.Proposal, r.Proposal
		m.rememberValue(r.Proposal.Value)
	case wal.KindVote:
		if r.Round != m.Round {
			return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s outside round %d", r, m.Round))
		}
		if _, err := m.Votes.AddVote(r.Vote); err != nil {
			return err
		}
		m.ownVotes[roundStep{r.Round, r.Vote.Step}] = r.Vote
		m.Step = max(m.Step, r.Vote.Step)
	case wal.KindLock:
		if r.Round > m.Round || !m.Lock.Update(r.Round, r.Value, r.QC) {
			return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s rejected by lock %s", r, m.Lock.Current()))
		}
		m.rememberValue(r.Value)
	case wal.KindCommit:
		if r.QC.Step != lib.StepPreCommit || !bytes.Equal(r.QC.ValueHash, crypto.Hash(r.Value)) {
			return lib.ErrRecordOutOfOrder(fmt.Sprintf("%s does not certify its value", r))
		}
		m.rememberValue(r.Value)
		m.Step = lib.StepCommit
		m.Decision = &Decision{Height: m.Height, Round: r.Round, Value: r.Value, QC: r.QC}
	}
	return nil
}

// Resume() replays the records and continues from the recovered position:
// - nothing recovered: start at round 0
// - decided: nothing to do, the caller re-delivers the decision
// - otherwise: re-arm the step timer, re-send own messages of the round and act on what they complete
func (m *Machine) Resume(records []*wal.Record) lib.ErrorI {
	if err := m.Replay(records); err != nil {
		return err
	}
	if !m.started {
		return m.Start()
	}
	if m.Committed() {
		return nil
	}
	m.startedAt = time.Now()
	m.metrics.UpdateView(m.Height, m.Round)
	m.timeouts.Schedule(m.Height, m.Round, m.Step)
	m.log.Infof("Resuming at %s with %s", m.View.ToString(), m.Lock.Current())
	if p, found := m.ownProposals[m.Round]; found {
		m.broadcast(&lib.Message{Proposal: p})
	} else if m.Step == lib.StepPropose && m.IsLeader(m.Round) {
		if err := m.propose(); err != nil {
			m.log.Errorf("Failed to propose at %s: %s", m.View.ToString(), err.Error())
		}
	}
	for _, step := range []lib.Step{lib.StepPreVote, lib.StepPreCommit} {
		if v, found := m.ownVotes[roundStep{m.Round, step}]; found {
			m.broadcast(&lib.Message{Vote: v})
		}
	}
	return m.catchUp()
}
