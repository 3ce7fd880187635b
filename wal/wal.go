package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/canopy-network/accord/lib"
	"github.com/dgraph-io/badger/v4"
)

/*
	The crash-recovery log remembers, durably and before anything is sent, every decision this node makes
	that it must not contradict after a restart: the rounds it entered, what it proposed and voted, what it
	locked on and what it decided.

	Records live in badger under `w/ | height (8 bytes BE) | sequence (8 bytes BE)` so a prefix scan returns them
	ordered by height and then by append order. Each value is `crc32 (4 bytes BE) | record`, and any record
	that fails its checksum or doesn't decode is reported as corruption rather than skipped.
*/

var recordPrefix = []byte("w/")

const (
	keyLength      = 2 + 8 + 8
	checksumLength = 4
)

// Log is the durable, append-only record of a node's own consensus decisions
type Log interface {
	// Append() durably stores the record before returning
	Append(r *Record) lib.ErrorI
	// Records() returns every stored record ordered by height, then append order
	Records() ([]*Record, lib.ErrorI)
	// Truncate() removes every record at or below height
	Truncate(height uint64) lib.ErrorI
	Close() lib.ErrorI
}

var _ Log = &BadgerLog{}

// BadgerLog is the badger backed implementation of Log
type BadgerLog struct {
	db      *badger.DB
	mu      sync.Mutex // serializes appends so sequence numbers follow append order
	nextSeq uint64
	metrics *lib.Metrics
	log     lib.LoggerI
}

// New() opens (or creates) the recovery log described by the configuration
func New(config lib.Config, metrics *lib.Metrics, log lib.LoggerI) (*BadgerLog, lib.ErrorI) {
	opts := badger.DefaultOptions(filepath.Join(config.DataDirPath, config.DBName))
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(config.SyncWrites).WithLogger(badgerLogger{log})
	if config.MemTableBytes > 0 {
		opts = opts.WithMemTableSize(config.MemTableBytes)
	}
	if config.ValueLogBytes > 0 {
		opts = opts.WithValueLogFileSize(config.ValueLogBytes)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, lib.ErrOpenLog(err)
	}
	return NewWithDB(db, metrics, log)
}

// NewInMemory() opens a non-durable log, for testing
func NewInMemory(log lib.LoggerI) (*BadgerLog, lib.ErrorI) {
	config := lib.DefaultConfig()
	config.InMemory = true
	return New(config, nil, log)
}

// NewWithDB() wraps an already opened badger database, resuming the sequence after its last record
func NewWithDB(db *badger.DB, metrics *lib.Metrics, log lib.LoggerI) (*BadgerLog, lib.ErrorI) {
	l := &BadgerLog{db: db, metrics: metrics, log: log}
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if _, seq, ok := parseKey(it.Item().Key()); ok && seq >= l.nextSeq {
				l.nextSeq = seq + 1
			}
		}
		return nil
	})
	if err != nil {
		return nil, lib.ErrOpenLog(err)
	}
	return l, nil
}

// Append() durably stores the record; with sync writes enabled the record is on disk when this returns
func (l *BadgerLog) Append(r *Record) lib.ErrorI {
	if err := r.CheckBasic(); err != nil {
		return err
	}
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	key, value := recordKey(r.Height, l.nextSeq), encodeValue(r.Marshal())
	if err := l.db.Update(func(txn *badger.Txn) error { return txn.Set(key, value) }); err != nil {
		return lib.ErrAppendRecord(err)
	}
	l.nextSeq++
	l.metrics.Appended(time.Since(start))
	return nil
}

// Records() returns every stored record in order, failing on the first corrupt one
func (l *BadgerLog) Records() (records []*Record, err lib.ErrorI) {
	e := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, er := item.ValueCopy(nil)
			if er != nil {
				return er
			}
			var record *Record
			if record, err = decodeRecord(item.KeyCopy(nil), value); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e != nil {
		return nil, lib.ErrReadRecords(e)
	}
	return records, nil
}

// Truncate() removes every record at or below height, used once a decided height is durably committed elsewhere
func (l *BadgerLog) Truncate(height uint64) lib.ErrorI {
	var keys [][]byte
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			h, _, ok := parseKey(it.Item().Key())
			if ok && h > height {
				break
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return lib.ErrTruncateLog(err)
	}
	if len(keys) == 0 {
		return nil
	}
	wb := l.db.NewWriteBatch()
	for _, k := range keys {
		if err = wb.Delete(k); err != nil {
			wb.Cancel()
			return lib.ErrTruncateLog(err)
		}
	}
	if err = wb.Flush(); err != nil {
		return lib.ErrTruncateLog(err)
	}
	l.log.Debugf("Truncated %d recovery records at or below height %d", len(keys), height)
	return nil
}

// Close() closes the underlying database
func (l *BadgerLog) Close() lib.ErrorI {
	if err := l.db.Close(); err != nil {
		return lib.ErrCloseLog(err)
	}
	return nil
}

// recordKey() builds `prefix | height | seq` with big endian integers so keys sort numerically
func recordKey(height, seq uint64) []byte {
	key := make([]byte, 0, keyLength)
	key = append(key, recordPrefix...)
	key = binary.BigEndian.AppendUint64(key, height)
	return binary.BigEndian.AppendUint64(key, seq)
}

// parseKey() splits a record key into its height and sequence
func parseKey(key []byte) (height, seq uint64, ok bool) {
	if len(key) != keyLength || !bytes.HasPrefix(key, recordPrefix) {
		return 0, 0, false
	}
	body := key[len(recordPrefix):]
	return binary.BigEndian.Uint64(body[:8]), binary.BigEndian.Uint64(body[8:]), true
}

// encodeValue() prefixes the payload with its crc32 checksum
func encodeValue(payload []byte) []byte {
	value := make([]byte, 0, checksumLength+len(payload))
	value = binary.BigEndian.AppendUint32(value, crc32.ChecksumIEEE(payload))
	return append(value, payload...)
}

// decodeRecord() verifies the checksum and placement of a stored record and decodes it
func decodeRecord(key, value []byte) (*Record, lib.ErrorI) {
	height, _, ok := parseKey(key)
	if !ok {
		return nil, lib.ErrCorruptRecord(key, "malformed key")
	}
	if len(value) < checksumLength {
		return nil, lib.ErrCorruptRecord(key, "value shorter than its checksum")
	}
	payload := value[checksumLength:]
	if binary.BigEndian.Uint32(value[:checksumLength]) != crc32.ChecksumIEEE(payload) {
		return nil, lib.ErrCorruptRecord(key, "checksum mismatch")
	}
	record := new(Record)
	if err := record.Unmarshal(payload); err != nil {
		return nil, lib.ErrCorruptRecord(key, err.Error())
	}
	if err := record.CheckBasic(); err != nil {
		return nil, lib.ErrCorruptRecord(key, err.Error())
	}
	if record.Height != height {
		return nil, lib.ErrCorruptRecord(key, fmt.Sprintf("stored under height %d but records height %d", height, record.Height))
	}
	return record, nil
}

// badgerLogger routes badger's internal logging into the engine logger
type badgerLogger struct{ log lib.LoggerI }

func (b badgerLogger) Errorf(f string, a ...interface{}) { b.log.Error(b.format(f, a...)) }
func (b badgerLogger) Warningf(f string, a ...interface{}) { b.log.Warn(b.format(f, a...)) }
func (b badgerLogger) Infof(f string, a ...interface{}) { b.log.Debug(b.format(f, a...)) }
func (b badgerLogger) Debugf(f string, a ...interface{}) { b.log.Debug(b.format(f, a...)) }

func (b badgerLogger) format(f string, a ...interface{}) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(f, a...))
}
