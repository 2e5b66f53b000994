package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spikebot/spike/internal/model"
)

// FileLedger keeps the ledger document in memory and writes it to disk
// every flushEvery adjustments, on Flush, and on Close. Reads are served
// from memory so they always observe the latest write.
type FileLedger struct {
	path       string
	flushEvery int

	mu       sync.Mutex
	accounts map[string]*model.Account
	pending  int
}

// OpenFileLedger loads the ledger document at path. A missing
// document starts an empty ledger and writes it so the bot can boot fresh.
func OpenFileLedger(path string, flushEvery int) (*FileLedger, error) {
	if flushEvery < 1 {
		flushEvery = 1
	}
	l := &FileLedger{
		path:       path,
		flushEvery: flushEvery,
		accounts:   make(map[string]*model.Account),
	}

	doc := map[string]*model.Account{}
	if err := readDocument(path, &doc); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load ledger %s: %w", path, err)
		}
		slog.Warn("ledger document missing, starting empty", "path", path)
		if err := writeDocument(path, doc); err != nil {
			return nil, fmt.Errorf("create ledger %s: %w", path, err)
		}
	}
	for id, a := range doc {
		if a == nil {
			continue
		}
		a.ID = id
		l.accounts[id] = a
	}
	return l, nil
}

func (l *FileLedger) Balance(_ context.Context, accountID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return a.Wallet, nil
}

func (l *FileLedger) Adjust(_ context.Context, accountID string, delta int64, name string, enforce bool) (int64, error) {
	return l.update(accountID, name, fixed(delta), enforce)
}

func (l *FileLedger) AdjustFunc(_ context.Context, accountID, name string, fn DeltaFunc) (int64, error) {
	return l.update(accountID, name, fn, true)
}

func (l *FileLedger) update(accountID, name string, fn DeltaFunc, enforce bool) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[accountID]
	next := model.Account{ID: accountID, Name: name}
	if ok {
		next = *a
	}
	delta, err := fn(next.Wallet)
	if err != nil {
		return next.Wallet, err
	}
	if err := applyAdjust(&next, ok, delta, enforce); err != nil {
		return next.Wallet, fmt.Errorf("account %s: %w", accountID, err)
	}
	l.accounts[accountID] = &next

	l.pending++
	if l.pending >= l.flushEvery {
		if err := l.flushLocked(); err != nil {
			// The in-memory value stays authoritative; the next flush retries.
			slog.Error("ledger flush failed", "path", l.path, "err", err)
		}
	}
	return next.Wallet, nil
}

func (l *FileLedger) Accounts(_ context.Context) ([]model.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Flush writes pending adjustments to disk. It is a no-op when nothing
// changed since the last flush.
func (l *FileLedger) Flush(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending == 0 {
		return nil
	}
	return l.flushLocked()
}

// Close flushes any pending writes.
func (l *FileLedger) Close() error {
	return l.Flush(context.Background())
}

func (l *FileLedger) flushLocked() error {
	if err := writeDocument(l.path, l.accounts); err != nil {
		return err
	}
	l.pending = 0
	return nil
}

// FileWagers stores open wagers as a single JSON document. Every operation
// reads the document from disk, and every mutation rewrites all of it.
type FileWagers struct {
	path string
	mu   sync.Mutex
}

// OpenFileWagers returns a wager store over the document at path, creating
// an empty document if none exists.
func OpenFileWagers(path string) (*FileWagers, error) {
	s := &FileWagers{path: path}
	doc := map[string]*model.Wager{}
	if err := readDocument(path, &doc); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load wagers %s: %w", path, err)
		}
		if err := writeDocument(path, doc); err != nil {
			return nil, fmt.Errorf("create wagers %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *FileWagers) load() (map[string]*model.Wager, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read wagers: %w", err)
	}
	return decodeWagers(data)
}

func (s *FileWagers) All(_ context.Context) (map[string]*model.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileWagers) Get(_ context.Context, id string) (*model.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	w, ok := doc[id]
	if !ok {
		return nil, fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	return w, nil
}

func (s *FileWagers) Put(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc[w.ID] = w.Clone()
	return writeDocument(s.path, doc)
}

func (s *FileWagers) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[id]; !ok {
		return fmt.Errorf("wager %s: %w", id, ErrNotFound)
	}
	delete(doc, id)
	return writeDocument(s.path, doc)
}

func readDocument(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// writeDocument replaces the file atomically via a temp file and rename.
func writeDocument(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
