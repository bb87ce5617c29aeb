package ledger

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Writer owns the append-only ledger file. It is the single writer of the
// chain: the file, the tip and the approved-key set change together under mu.
// tip and entries are also published atomically so readers never wait on an
// in-progress fsync.
type Writer struct {
	mu        sync.Mutex
	path      string
	tip       *string
	entries   int
	published atomic.Pointer[snapshot]
	keys      *KeySet
	validator Validator
	now       func() time.Time
	openFile  func(name string, flag int, perm fs.FileMode) (ledgerFile, error)

	// missingNewline is set when the file on disk does not end with '\n'.
	missingNewline bool
	// torn is set when a failed write could not be rolled back. Appends are
	// refused until Recover succeeds.
	torn error
}

// ledgerFile is the subset of *os.File used for appends.
type ledgerFile interface {
	io.Writer
	Stat() (fs.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

func openLedgerFile(name string, flag int, perm fs.FileMode) (ledgerFile, error) {
	return os.OpenFile(name, flag, perm)
}

type snapshot struct {
	tip     *string
	entries int
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock overrides the moderation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithValidator replaces the embedded schema validator.
func WithValidator(v Validator) Option {
	return func(w *Writer) { w.validator = v }
}

// Open creates a Writer for path and recovers tip and approved keys from
// any existing ledger. A ledger that fails verification is ErrMalformedLedger.
func Open(path string, opts ...Option) (*Writer, error) {
	w := &Writer{
		path:     path,
		keys:     NewKeySet(),
		now:      time.Now,
		openFile: openLedgerFile,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.validator == nil {
		v, err := NewSchemaValidator()
		if err != nil {
			return nil, err
		}
		w.validator = v
	}

	if err := w.Recover(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the ledger file path.
func (w *Writer) Path() string { return w.path }

// Keys returns the approved-key set.
func (w *Writer) Keys() *KeySet { return w.keys }

// Tip returns the hash of the most recently written entry, or nil.
func (w *Writer) Tip() *string {
	snap := w.published.Load()
	if snap == nil || snap.tip == nil {
		return nil
	}
	t := *snap.tip
	return &t
}

// Entries returns the number of entries in the ledger.
func (w *Writer) Entries() int {
	if snap := w.published.Load(); snap != nil {
		return snap.entries
	}
	return 0
}

// publish exposes tip and entries to readers. Caller must hold mu.
func (w *Writer) publish() {
	w.published.Store(&snapshot{tip: w.tip, entries: w.entries})
}

// ApprovedCount returns the number of distinct approved dedupe keys.
func (w *Writer) ApprovedCount() int {
	return w.keys.Len()
}

// IsApproved reports whether key is already finalized.
func (w *Writer) IsApproved(key DedupeKey) bool {
	return w.keys.Contains(key)
}

// Recover rebuilds tip and the approved-key set by reading the ledger from
// start to end. An absent or empty file yields a nil tip and no keys.
func (w *Writer) Recover() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tip = nil
	w.entries = 0
	w.missingNewline = false
	w.torn = nil
	w.keys.reset()
	defer w.publish()

	f, err := os.Open(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", w.path).Msg("ledger: no ledger file, starting empty chain")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: open ledger: %v", ErrStorageFailure, err)
	}
	defer f.Close()

	tip, err := scanLedger(f, func(line int, entry LedgerEntry, key DedupeKey) error {
		if !w.keys.Add(key) {
			log.Warn().
				Str("event", "ledger_recovered_duplicate_key").
				Int("line", line).
				Str("reportId", entry.ID).
				Str("dedupeKey", string(key)).
				Msg("ledger: duplicate dedupe key in history")
		}
		w.entries++
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("ledger: recovery failed")
		return err
	}
	w.tip = tip

	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			w.missingNewline = true
		}
	}

	log.Info().
		Str("event", "ledger_recovered").
		Str("path", w.path).
		Int("entries", w.entries).
		Int("approvedKeys", w.keys.Len()).
		Str("tip", deref(w.tip)).
		Msg("ledger: recovered")
	return nil
}

// Append writes p as an approved ledger entry and registers its dedupe key.
func (w *Writer) Append(p PendingEntry, moderator string) (LedgerEntry, error) {
	return w.AppendWithCommit(p, moderator, nil)
}

// CommitFunc runs after the line is durable while the writer still owns the
// tip. It must call register exactly once; callers use it to retire the
// pending entry in the same critical section as the key registration.
type CommitFunc func(register func())

// AppendWithCommit is Append with a hook around key registration.
//
// On ErrDuplicateApproved, ErrSchemaViolation or ErrStorageFailure nothing is
// written, the tip is unchanged and commit is not called.
func (w *Writer) AppendWithCommit(p PendingEntry, moderator string, commit CommitFunc) (LedgerEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.torn != nil {
		return LedgerEntry{}, fmt.Errorf("%w: ledger holds an unrecovered partial write: %v", ErrStorageFailure, w.torn)
	}
	if w.keys.Contains(p.DedupeKey) {
		return LedgerEntry{}, fmt.Errorf("%w: %s", ErrDuplicateApproved, p.DedupeKey)
	}

	entry := newEntry(p, moderator, w.now(), w.tip)
	canonical, err := canonicalJSON(entry.fields(false))
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	entry.Hash = chainHash(entry.PrevHash, canonical)

	line, err := canonicalJSON(entry.fields(true))
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := w.validator.Validate(line); err != nil {
		log.Warn().
			Err(err).
			Str("event", "ledger_schema_violation").
			Str("reportId", p.ID).
			Msg("ledger: entry rejected by schema")
		return LedgerEntry{}, err
	}

	if err := w.writeLine(line); err != nil {
		log.Error().
			Err(err).
			Str("event", "ledger_append_failed").
			Str("reportId", p.ID).
			Str("path", w.path).
			Msg("ledger: append failed")
		return LedgerEntry{}, err
	}

	hash := entry.Hash
	w.tip = &hash
	w.entries++
	w.publish()
	register := func() { w.keys.Add(p.DedupeKey) }
	if commit != nil {
		commit(register)
	} else {
		register()
	}

	log.Info().
		Str("event", "ledger_report_approved").
		Str("reportId", p.ID).
		Str("hash", hash).
		Str("prevHash", deref(entry.PrevHash)).
		Str("moderator", moderator).
		Msg("ledger: entry appended")
	return entry, nil
}

// writeLine appends line and a newline with a single write followed by
// fsync. A failed or short write is truncated away so readers never observe
// a partial line.
func (w *Writer) writeLine(line []byte) error {
	if dir := filepath.Dir(w.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create ledger directory: %v", ErrStorageFailure, err)
		}
	}

	f, err := w.openFile(w.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open ledger: %v", ErrStorageFailure, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: stat ledger: %v", ErrStorageFailure, err)
	}
	size := info.Size()

	buf := make([]byte, 0, len(line)+2)
	if w.missingNewline && size > 0 {
		buf = append(buf, '\n')
	}
	buf = append(buf, line...)
	buf = append(buf, '\n')

	n, err := f.Write(buf)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		if n > 0 {
			if terr := f.Truncate(size); terr != nil {
				w.torn = terr
				log.Error().
					Err(terr).
					Str("event", "ledger_torn_write").
					Str("path", w.path).
					Int64("size", size).
					Msg("ledger: failed to roll back partial write, appends disabled")
			}
		}
		f.Close()
		return fmt.Errorf("%w: write ledger: %v", ErrStorageFailure, err)
	}
	// The line is durable once Sync returns; a close error cannot undo it.
	if err := f.Close(); err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("ledger: close after append failed")
	}
	w.missingNewline = false
	return nil
}
