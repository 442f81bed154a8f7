// Package ingestlog implements the append-only, rotated ingest log that is
// the single source of truth between the Gateway and all downstream
// consumers (§4.3, §6). The append-ordering/idempotent-append discipline is
// grounded on services/audit/internal/ledger/append_only.go, carried over
// to a durable, file-backed form.
package ingestlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sms-collective/sms-pipeline/pkg/envelope"
)

var (
	ErrInvalidDir = errors.New("ingestlog: invalid directory")
	ErrNotFound   = errors.New("ingestlog: envelope not found")
)

const (
	// DefaultMaxFileBytes rotates to a new segment once the current file
	// would exceed this size (§6 "rotated by size/date").
	DefaultMaxFileBytes = 64 * 1024 * 1024

	filePrefix = "ingest-"
	fileSuffix = ".jsonl"
)

// recentEntry indexes an envelope's location for FindById, mirroring the
// ledger's tenant/event_id -> position index but keyed by file+offset.
type recentEntry struct {
	file   string
	offset int64
}

// Log is a single-writer, many-reader append-only envelope log.
type Log struct {
	mu sync.Mutex

	dir          string
	maxFileBytes int64
	clock        func() time.Time

	curFile   *os.File
	curName   string
	curDate   string
	curSeq    int
	curOffset int64

	// recent-segment index for FindById; bounded by MaxIndexEntries.
	index           map[uuid.UUID]recentEntry
	MaxIndexEntries int
}

type Options struct {
	MaxFileBytes int64
	Clock        func() time.Time
}

func Open(dir string, opts Options) (*Log, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	l := &Log{
		dir:             dir,
		maxFileBytes:    opts.MaxFileBytes,
		clock:           opts.Clock,
		index:           make(map[uuid.UUID]recentEntry),
		MaxIndexEntries: 200000,
	}
	if err := l.openCurrentLocked(); err != nil {
		return nil, err
	}
	if err := l.rebuildIndexLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.curFile != nil {
		return l.curFile.Close()
	}
	return nil
}

// segmentName formats "ingest-YYYYMMDD-NN.jsonl" per §6.
func segmentName(date string, seq int) string {
	return fmt.Sprintf("%s%s-%02d%s", filePrefix, date, seq, fileSuffix)
}

func (l *Log) openCurrentLocked() error {
	date := l.clock().Format("20060102")
	seq, err := l.highestSeqForDate(date)
	if err != nil {
		return err
	}
	if seq == 0 {
		seq = 1
	}
	return l.openSegmentLocked(date, seq)
}

func (l *Log) highestSeqForDate(date string) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, err
	}
	max := 0
	prefix := filePrefix + date + "-"
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		seqStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), fileSuffix)
		seq, err := strconv.Atoi(seqStr)
		if err != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

func (l *Log) openSegmentLocked(date string, seq int) error {
	name := segmentName(date, seq)
	path := filepath.Join(l.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if l.curFile != nil {
		l.curFile.Close()
	}
	l.curFile = f
	l.curName = name
	l.curDate = date
	l.curSeq = seq
	l.curOffset = info.Size()
	return nil
}

func (l *Log) rebuildIndexLocked() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, filePrefix) && strings.HasSuffix(n, fileSuffix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := l.indexFileLocked(name); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) indexFileLocked(name string) error {
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	var offset int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		env, err := envelope.UnmarshalJSONLine(line)
		if err == nil {
			l.recordIndexLocked(env.EnvelopeID, name, offset)
		}
		offset += int64(len(line)) + 1
	}
	return sc.Err()
}

func (l *Log) recordIndexLocked(id uuid.UUID, file string, offset int64) {
	if len(l.index) >= l.MaxIndexEntries {
		return
	}
	l.index[id] = recentEntry{file: file, offset: offset}
}

// Append writes one envelope as a JSON line, rotating segments by date or
// size, then records its position for FindById. Append is the commit point
// described in §4.2 — callers must not update cadence/dedupe state until
// this returns nil.
func (l *Log) Append(ctx context.Context, env envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}
	line, err := env.MarshalJSONLine()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	date := l.clock().Format("20060102")
	if date != l.curDate {
		seq, err := l.highestSeqForDate(date)
		if err != nil {
			return err
		}
		if err := l.openSegmentLocked(date, seq+1); err != nil {
			return err
		}
	} else if l.curOffset+int64(len(line))+1 > l.maxFileBytes {
		if err := l.openSegmentLocked(date, l.curSeq+1); err != nil {
			return err
		}
	}

	n, err := l.curFile.Write(append(line, '\n'))
	if err != nil {
		return err
	}
	if err := l.curFile.Sync(); err != nil {
		return err
	}
	l.recordIndexLocked(env.EnvelopeID, l.curName, l.curOffset)
	l.curOffset += int64(n)
	return nil
}

// Entry pairs an envelope with its absolute byte offset within its
// segment file, for consumer offset bookkeeping.
type Entry struct {
	File     string
	Offset   int64
	Envelope envelope.Envelope
}

// ReadFrom yields envelopes in commit order starting at file "from" and
// byte offset "fromOffset" (exclusive of already-consumed bytes), scanning
// forward through later-rotated segments. Callers typically pass the
// consumer's last committed (file, offset) from the sidecar KV.
func (l *Log) ReadFrom(ctx context.Context, fromFile string, fromOffset int64) ([]Entry, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, filePrefix) && strings.HasSuffix(n, fileSuffix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var out []Entry
	started := fromFile == ""
	for _, name := range names {
		if !started {
			if name != fromFile {
				continue
			}
			started = true
		}
		start := int64(0)
		if name == fromFile {
			start = fromOffset
		}
		lines, err := l.readSegment(ctx, name, start)
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}

func (l *Log) readSegment(ctx context.Context, name string, fromOffset int64) ([]Entry, error) {
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(fromOffset, io.SeekStart); err != nil {
		return nil, err
	}
	var out []Entry
	offset := fromOffset
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := sc.Bytes()
		env, err := envelope.UnmarshalJSONLine(line)
		if err != nil {
			offset += int64(len(line)) + 1
			continue
		}
		out = append(out, Entry{File: name, Offset: offset, Envelope: env})
		offset += int64(len(line)) + 1
	}
	return out, sc.Err()
}

// FindById scans the current and recently-indexed segments for an
// envelope, per §4.3.
func (l *Log) FindById(ctx context.Context, id uuid.UUID) (envelope.Envelope, bool, error) {
	l.mu.Lock()
	entry, ok := l.index[id]
	l.mu.Unlock()
	if !ok {
		return envelope.Envelope{}, false, nil
	}
	f, err := os.Open(filepath.Join(l.dir, entry.file))
	if err != nil {
		if os.IsNotExist(err) {
			return envelope.Envelope{}, false, nil
		}
		return envelope.Envelope{}, false, err
	}
	defer f.Close()
	if _, err := f.Seek(entry.offset, io.SeekStart); err != nil {
		return envelope.Envelope{}, false, err
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	if !sc.Scan() {
		return envelope.Envelope{}, false, sc.Err()
	}
	env, err := envelope.UnmarshalJSONLine(sc.Bytes())
	if err != nil {
		return envelope.Envelope{}, false, err
	}
	return env, true, nil
}

// CurrentPosition returns the active segment name and its current size,
// used as a consumer's starting cursor for a fresh subscription.
func (l *Log) CurrentPosition() (file string, offset int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.curName, l.curOffset
}
