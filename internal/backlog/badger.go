// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package backlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/chronoscope/internal/logging"
)

// Key layout:
//
//	r/<u64 BE log time><u64 BE sequence>  record value: <u16 BE topic len><topic><payload>
//	c/<topic>                             channel value: JSON ChannelInfo
const (
	prefixRecord  = "r/"
	prefixChannel = "c/"

	recordKeyLen = len(prefixRecord) + 16

	// cursorBatch bounds how many records a cursor reads per read transaction.
	cursorBatch = 256
)

// ErrCorruptRecord marks a record value that could not be decoded.
var ErrCorruptRecord = errors.New("backlog: corrupt record")

// BadgerOptions configures a BadgerLog.
type BadgerOptions struct {
	Path        string
	Compression bool
	ReadOnly    bool

	// InMemory keeps the store in memory; Path is ignored.
	InMemory bool
}

// BadgerLog is a durable Log. Keys sort by log time, so Floor is a single
// reverse seek and Cursor a forward seek.
type BadgerLog struct {
	db     *badger.DB
	seq    atomic.Uint64
	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) a log at opts.Path.
func OpenBadger(opts BadgerOptions) (*BadgerLog, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.ReadOnly = opts.ReadOnly
	if opts.Compression {
		bopts.Compression = options.Snappy
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	l := &BadgerLog{db: db}
	last, err := l.lastSequence()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.seq.Store(last)

	logging.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Bool("read_only", opts.ReadOnly).
		Msg("backlog opened")
	return l, nil
}

func recordKey(logTime, seq uint64) []byte {
	k := make([]byte, recordKeyLen)
	copy(k, prefixRecord)
	binary.BigEndian.PutUint64(k[len(prefixRecord):], logTime)
	binary.BigEndian.PutUint64(k[len(prefixRecord)+8:], seq)
	return k
}

func parseRecordKey(k []byte) (logTime, seq uint64, ok bool) {
	if len(k) != recordKeyLen || !bytes.HasPrefix(k, []byte(prefixRecord)) {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(k[len(prefixRecord):]),
		binary.BigEndian.Uint64(k[len(prefixRecord)+8:]), true
}

func encodeRecordValue(r Record) ([]byte, error) {
	if len(r.Topic) > math.MaxUint16 {
		return nil, fmt.Errorf("backlog: topic too long (%d bytes)", len(r.Topic))
	}
	v := make([]byte, 2+len(r.Topic)+len(r.Payload))
	binary.BigEndian.PutUint16(v, uint16(len(r.Topic)))
	copy(v[2:], r.Topic)
	copy(v[2+len(r.Topic):], r.Payload)
	return v, nil
}

func decodeRecordValue(logTime uint64, v []byte) (Record, error) {
	if len(v) < 2 {
		return Record{}, fmt.Errorf("%w at %d: value too short", ErrCorruptRecord, logTime)
	}
	n := int(binary.BigEndian.Uint16(v))
	if len(v) < 2+n {
		return Record{}, fmt.Errorf("%w at %d: topic overruns value", ErrCorruptRecord, logTime)
	}
	return Record{
		LogTime: logTime,
		Topic:   string(v[2 : 2+n]),
		Payload: append([]byte(nil), v[2+n:]...),
	}, nil
}

func (l *BadgerLog) view(fn func(txn *badger.Txn) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.db.View(fn)
}

func (l *BadgerLog) update(fn func(txn *badger.Txn) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.db.Update(fn)
}

// lastKeyAtOrBefore returns the greatest record key <= limit.
func lastKeyAtOrBefore(txn *badger.Txn, limit []byte) ([]byte, bool) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(prefixRecord)
	it.Seek(limit)
	if !it.ValidForPrefix(prefix) {
		return nil, false
	}
	return it.Item().KeyCopy(nil), true
}

func (l *BadgerLog) lastSequence() (uint64, error) {
	var seq uint64
	err := l.view(func(txn *badger.Txn) error {
		k, ok := lastKeyAtOrBefore(txn, recordKey(math.MaxUint64, math.MaxUint64))
		if ok {
			_, seq, _ = parseRecordKey(k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read last sequence: %w", err)
	}
	return seq, nil
}

// Bounds implements Log.
func (l *BadgerLog) Bounds() (uint64, uint64, error) {
	var start, end uint64
	empty := true
	err := l.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		prefix := []byte(prefixRecord)
		it.Seek(prefix)
		if it.ValidForPrefix(prefix) {
			start, _, _ = parseRecordKey(it.Item().Key())
			empty = false
		}
		it.Close()

		if k, ok := lastKeyAtOrBefore(txn, recordKey(math.MaxUint64, math.MaxUint64)); ok {
			end, _, _ = parseRecordKey(k)
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("read bounds: %w", err)
	}
	if empty {
		return 0, 0, ErrEmpty
	}
	return start, end, nil
}

// Floor implements Log.
func (l *BadgerLog) Floor(t uint64) (uint64, bool, error) {
	var (
		floor uint64
		found bool
	)
	err := l.view(func(txn *badger.Txn) error {
		if k, ok := lastKeyAtOrBefore(txn, recordKey(t, math.MaxUint64)); ok {
			floor, _, _ = parseRecordKey(k)
			found = true
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("floor %d: %w", t, err)
	}
	return floor, found, nil
}

// Channels implements Log.
func (l *BadgerLog) Channels() ([]ChannelInfo, error) {
	var out []ChannelInfo
	err := l.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixChannel)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var info ChannelInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("skipping unreadable channel entry")
				continue
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return out, nil
}

// DefineChannel records channel metadata for a topic, replacing any previous entry.
func (l *BadgerLog) DefineChannel(info ChannelInfo) error {
	val, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal channel: %w", err)
	}
	return l.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixChannel+info.Topic), val)
	})
}

// Append writes one record.
func (l *BadgerLog) Append(r Record) error {
	return l.AppendBatch([]Record{r})
}

// AppendBatch writes records in a single transaction.
func (l *BadgerLog) AppendBatch(records []Record) error {
	return l.update(func(txn *badger.Txn) error {
		for _, r := range records {
			v, err := encodeRecordValue(r)
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(r.LogTime, l.seq.Add(1)), v); err != nil {
				return fmt.Errorf("append record at %d: %w", r.LogTime, err)
			}
		}
		return nil
	})
}

// Cursor implements Log. Each batch is read in its own transaction, so a
// cursor does not pin a read snapshot for the length of a playback.
func (l *BadgerLog) Cursor(from uint64) (Cursor, error) {
	return &badgerCursor{log: l, next: recordKey(from, 0)}, nil
}

// Close releases the underlying database.
func (l *BadgerLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

type cursorEntry struct {
	rec Record
	err error
}

type badgerCursor struct {
	log     *BadgerLog
	next    []byte
	batch   []cursorEntry
	pos     int
	drained bool
}

func (c *badgerCursor) Next() (Record, error) {
	if c.pos >= len(c.batch) {
		if c.drained {
			return Record{}, io.EOF
		}
		if err := c.fill(); err != nil {
			return Record{}, err
		}
		if len(c.batch) == 0 {
			return Record{}, io.EOF
		}
	}
	e := c.batch[c.pos]
	c.pos++
	return e.rec, e.err
}

func (c *badgerCursor) fill() error {
	c.batch = c.batch[:0]
	c.pos = 0
	return c.log.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = cursorBatch
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRecord)
		var last []byte
		for it.Seek(c.next); it.ValidForPrefix(prefix) && len(c.batch) < cursorBatch; it.Next() {
			item := it.Item()
			last = item.KeyCopy(last[:0])
			logTime, _, ok := parseRecordKey(last)
			if !ok {
				c.batch = append(c.batch, cursorEntry{err: fmt.Errorf("%w: malformed key %x", ErrCorruptRecord, last)})
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				c.batch = append(c.batch, cursorEntry{err: fmt.Errorf("read record at %d: %w", logTime, err)})
				continue
			}
			rec, err := decodeRecordValue(logTime, val)
			c.batch = append(c.batch, cursorEntry{rec: rec, err: err})
		}
		if len(c.batch) < cursorBatch {
			c.drained = true
		}
		if last != nil {
			// Resume strictly after the last key read.
			c.next = append(append([]byte(nil), last...), 0)
		}
		return nil
	})
}

func (c *badgerCursor) Close() error {
	c.batch = nil
	c.drained = true
	return nil
}
