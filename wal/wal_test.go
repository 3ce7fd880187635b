package wal

import (
	"testing"

	"github.com/canopy-network/accord/lib"
	"github.com/canopy-network/accord/lib/crypto"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecords(t *testing.T) {
	l := newTestLog(t)
	records := testRecords()
	// append out of height order to prove the log orders by height, then append order
	for _, r := range []*Record{records[0], records[1], records[4], records[2], records[3]} {
		require.NoError(t, l.Append(r))
	}
	got, err := l.Records()
	require.NoError(t, err)
	require.Len(t, got, 5)
	expected := []*Record{records[0], records[1], records[2], records[3], records[4]}
	for i := range expected {
		require.Equal(t, expected[i].Kind, got[i].Kind, "index %d", i)
		require.Equal(t, expected[i].Height, got[i].Height, "index %d", i)
		require.Equal(t, expected[i].Round, got[i].Round, "index %d", i)
	}
	// payloads survive the round trip
	require.Equal(t, records[1].Vote, got[1].Vote)
	require.True(t, records[2].QC.Equals(got[2].QC))
	require.Equal(t, records[2].Value, got[2].Value)
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	l := newTestLog(t)
	tests := []struct {
		name   string
		detail string
		record *Record
	}{
		{
			name:   "unknown kind",
			detail: "kinds outside the defined set can't be stored",
			record: &Record{Kind: 42, Height: 1},
		},
		{
			name:   "vote missing",
			detail: "a vote record must carry the vote",
			record: &Record{Kind: KindVote, Height: 1},
		},
		{
			name:   "misplaced certificate",
			detail: "a lock record's certificate must be for the record's height and round",
			record: &Record{Kind: KindLock, Height: 1, Round: 2, QC: &lib.QuorumCertificate{Height: 1, Round: 1}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := l.Append(test.record)
			require.Error(t, err)
			require.Equal(t, lib.RecoveryModule, err.Module())
		})
	}
}

func TestTruncate(t *testing.T) {
	l := newTestLog(t)
	for _, r := range testRecords() {
		require.NoError(t, l.Append(r))
	}
	require.NoError(t, l.Truncate(1))
	got, err := l.Records()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 2, got[0].Height)
	// truncating an already empty range is a no-op
	require.NoError(t, l.Truncate(1))
	require.NoError(t, l.Truncate(2))
	got, err = l.Records()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCorruptRecordIsFatal(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		value  func(valid []byte) []byte
	}{
		{
			name:   "checksum mismatch",
			detail: "a flipped payload byte fails the checksum",
			value: func(valid []byte) []byte {
				bad := append([]byte(nil), valid...)
				bad[len(bad)-1] ^= 0xFF
				return bad
			},
		},
		{
			name:   "truncated value",
			detail: "a value shorter than the checksum can't be verified",
			value:  func([]byte) []byte { return []byte{1, 2} },
		},
		{
			name:   "undecodable payload",
			detail: "a payload with a valid checksum that isn't a record",
			value:  func([]byte) []byte { return encodeValue([]byte{0xFF, 0xFF, 0xFF}) },
		},
		{
			name:   "misplaced record",
			detail: "a record stored under a different height than it claims",
			value: func([]byte) []byte {
				return encodeValue((&Record{Kind: KindRoundChange, Height: 9}).Marshal())
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l := newTestLog(t)
			require.NoError(t, l.Append(&Record{Kind: KindRoundChange, Height: 1}))
			valid := encodeValue((&Record{Kind: KindRoundChange, Height: 1}).Marshal())
			require.NoError(t, l.db.Update(func(txn *badger.Txn) error {
				return txn.Set(recordKey(1, 0), test.value(valid))
			}))
			_, err := l.Records()
			require.Error(t, err)
			require.Equal(t, lib.CodeCorruptRecord, err.Code())
		})
	}
}

func TestReopenResumesSequence(t *testing.T) {
	config := lib.DefaultConfig()
	config.DataDirPath = t.TempDir()
	config.SyncWrites = true
	l, err := New(config, nil, lib.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, l.Append(&Record{Kind: KindRoundChange, Height: 3, Round: 0}))
	require.NoError(t, l.Append(&Record{Kind: KindRoundChange, Height: 3, Round: 1}))
	require.NoError(t, l.Close())
	// reopen and continue appending; the new record must sort after the old ones
	l, err = New(config, nil, lib.NewNullLogger())
	require.NoError(t, err)
	defer l.Close()
	require.EqualValues(t, 2, l.nextSeq)
	require.NoError(t, l.Append(&Record{Kind: KindRoundChange, Height: 3, Round: 2}))
	got, err := l.Records()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		require.EqualValues(t, i, r.Round)
	}
}

func newTestLog(t *testing.T) *BadgerLog {
	l, err := NewInMemory(lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// testRecords() returns records for heights 1 and 2 in the order a node would write them
func testRecords() []*Record {
	valueHash := crypto.Hash([]byte("value"))
	vote := &lib.Vote{Height: 1, Round: 0, Step: lib.StepPreVote, ValueHash: valueHash, Voter: []byte("voter"), Signature: []byte("sig")}
	qc := lib.NewQuorumCertificate([]*lib.Vote{vote})
	return []*Record{
		{Kind: KindRoundChange, Height: 1, Round: 0},
		{Kind: KindVote, Height: 1, Round: 0, Vote: vote},
		{Kind: KindLock, Height: 1, Round: 0, Value: []byte("value"), QC: qc},
		{Kind: KindRoundChange, Height: 1, Round: 1},
		{Kind: KindRoundChange, Height: 2, Round: 0},
	}
}
