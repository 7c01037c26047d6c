// Package tape records a run's trades as an append-only, hash-chained JSONL
// stream, zstd-compressed. Every record carries the blake3 hash of its own
// canonical encoding plus the hash of its predecessor, so a finished tape can
// be re-verified offline and any edit, drop or reorder shows up as a chain
// break at a specific sequence number.
package tape

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/talgya/edgeworth/internal/market"
)

// Record kinds, in the order they may appear.
const (
	KindHeader = "header"
	KindTrade  = "trade"
	KindFinal  = "final"
)

// Header identifies the run a tape belongs to.
type Header struct {
	RunID     string    `json:"run_id"`
	Seed      int64     `json:"seed"`
	Agents    int       `json:"agents"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one line of the tape. Exactly one of the kind-specific fields is
// set, selected by Kind. Hash covers the canonical JSON of the record with
// Hash itself empty; PrevHash is the previous record's Hash ("" for the
// header).
type Record struct {
	Kind     string         `json:"kind"`
	Seq      int            `json:"seq"`
	Header   *Header        `json:"header,omitempty"`
	Trade    *market.Trade  `json:"trade,omitempty"`
	Rounds   int            `json:"rounds,omitempty"`
	Report   *market.Report `json:"report,omitempty"`
	PrevHash string         `json:"prev_hash"`
	Hash     string         `json:"hash"`
}

// BreakError locates the first record where tape verification failed.
type BreakError struct {
	Seq    int
	Reason string
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("tape: record %d: %s", e.Seq, e.Reason)
}

// Filename returns the tape file name for a run id.
func Filename(runID string) string {
	return "tape-" + runID + ".jsonl.zst"
}

func recordHash(rec Record) (string, error) {
	rec.Hash = ""
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Writer appends records to a tape file. Safe for concurrent use; records are
// flushed per append so a crash loses at most the record being written.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	enc       *zstd.Encoder
	w         *bufio.Writer
	seq       int
	prev      string
	finalized bool
	closed    bool
}

// Create opens a new tape at path and writes its header record.
func Create(path string, hdr Header) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &Writer{
		f:   f,
		enc: enc,
		w:   bufio.NewWriterSize(enc, 128*1024),
	}
	if err := w.append(Record{Kind: KindHeader, Header: &hdr}); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Append records one trade.
func (w *Writer) Append(tr market.Trade) error {
	return w.append(Record{Kind: KindTrade, Trade: &tr})
}

// Finalize writes the terminal record with the run's round count and its
// partition report. No records may follow.
func (w *Writer) Finalize(rounds int, report market.Report) error {
	return w.append(Record{Kind: KindFinal, Rounds: rounds, Report: &report})
}

func (w *Writer) append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("tape: writer closed")
	}
	if w.finalized {
		return errors.New("tape: tape already finalized")
	}

	rec.Seq = w.seq
	rec.PrevHash = w.prev
	hash, err := recordHash(rec)
	if err != nil {
		return err
	}
	rec.Hash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}

	w.seq++
	w.prev = rec.Hash
	if rec.Kind == KindFinal {
		w.finalized = true
	}
	return nil
}

// Close flushes and closes the tape file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader streams records from a tape file without verifying them.
type Reader struct {
	f   *os.File
	dec *zstd.Decoder
	sc  *bufio.Scanner
}

// Open opens a tape for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return &Reader{f: f, dec: dec, sc: sc}, nil
}

// Next returns the next record, or io.EOF past the last one.
func (r *Reader) Next() (Record, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return Record{}, err
		}
		return Record{}, io.EOF
	}
	var rec Record
	if err := json.Unmarshal(r.sc.Bytes(), &rec); err != nil {
		return Record{}, fmt.Errorf("tape: %w", err)
	}
	return rec, nil
}

// Close releases the reader.
func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}

// Info summarizes a verified tape.
type Info struct {
	Header     Header         `json:"header"`
	Records    int            `json:"records"`
	Trades     int            `json:"trades"`
	Terminated bool           `json:"terminated"`
	Rounds     int            `json:"rounds,omitempty"`
	Report     *market.Report `json:"report,omitempty"`
}

// Verify re-hashes the whole chain and checks record order. It returns a
// BreakError pointing at the first bad record. A tape without a final record
// verifies clean with Terminated false: a crashed run is truncated, not
// corrupt.
func Verify(path string) (Info, error) {
	r, err := Open(path)
	if err != nil {
		return Info{}, err
	}
	defer r.Close()

	var info Info
	prev := ""
	for seq := 0; ; seq++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return info, &BreakError{Seq: seq, Reason: err.Error()}
		}

		if rec.Seq != seq {
			return info, &BreakError{Seq: seq, Reason: fmt.Sprintf("sequence %d out of order", rec.Seq)}
		}
		if rec.PrevHash != prev {
			return info, &BreakError{Seq: seq, Reason: "chain broken: prev_hash mismatch"}
		}
		want, err := recordHash(rec)
		if err != nil {
			return info, &BreakError{Seq: seq, Reason: err.Error()}
		}
		if rec.Hash != want {
			return info, &BreakError{Seq: seq, Reason: "record hash mismatch"}
		}
		if info.Terminated {
			return info, &BreakError{Seq: seq, Reason: "record after final"}
		}
		if (seq == 0) != (rec.Kind == KindHeader) {
			return info, &BreakError{Seq: seq, Reason: "header must be the first record and only the first"}
		}

		switch rec.Kind {
		case KindHeader:
			if rec.Header == nil {
				return info, &BreakError{Seq: seq, Reason: "header record has no header body"}
			}
			info.Header = *rec.Header
		case KindTrade:
			info.Trades++
		case KindFinal:
			info.Terminated = true
			info.Rounds = rec.Rounds
			info.Report = rec.Report
		default:
			return info, &BreakError{Seq: seq, Reason: fmt.Sprintf("unknown kind %q", rec.Kind)}
		}

		info.Records++
		prev = rec.Hash
	}

	if info.Records == 0 {
		return info, &BreakError{Seq: 0, Reason: "empty tape"}
	}
	return info, nil
}

// Trades reads and verifies a tape, returning just its trade sequence. Used
// by the replay audit.
func Trades(path string) ([]market.Trade, error) {
	if _, err := Verify(path); err != nil {
		return nil, err
	}

	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var trades []market.Trade
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return trades, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.Kind == KindTrade && rec.Trade != nil {
			trades = append(trades, *rec.Trade)
		}
	}
}
