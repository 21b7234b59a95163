// Package filestore provides a CSV-file-backed implementation of emissions.Store.
package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/plume/internal/emissions"
	"github.com/linnemanlabs/plume/internal/emissions/table"
)

// Backing file names inside the data directory.
const (
	AssetsFile = "assets.csv"
	EventsFile = "events.csv"
)

// Store holds the full asset and event tables in memory and rewrites the
// events file after every applied mutation.
//
// One mutex guards everything. Helpers suffixed Locked expect it held.
type Store struct {
	mu         sync.Mutex
	eventsPath string
	assets     []emissions.Asset
	assetIdx   map[string]int
	events     []*emissions.Event
	index      map[string]int // event ID -> position in events

	logger    log.Logger
	onPersist func(time.Duration)
	write     func(path string, data []byte) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l log.Logger) Option { return func(s *Store) { s.logger = l } }

// WithPersistObserver is called with the duration of every successful persist.
func WithPersistObserver(fn func(time.Duration)) Option {
	return func(s *Store) { s.onPersist = fn }
}

// Open loads assets.csv and events.csv from dir. Both must exist and parse;
// otherwise the error wraps emissions.ErrStartup.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		eventsPath: filepath.Join(dir, EventsFile),
		logger:     log.Nop(),
		write:      writeFileAtomic,
	}
	for _, opt := range opts {
		opt(s)
	}

	assets, err := loadFile(filepath.Join(dir, AssetsFile), table.ReadAssets)
	if err != nil {
		return nil, err
	}
	events, err := loadFile(s.eventsPath, table.ReadEvents)
	if err != nil {
		return nil, err
	}

	s.assets = assets
	s.assetIdx = make(map[string]int, len(assets))
	for i, a := range assets {
		s.assetIdx[a.SiteID] = i
	}
	s.events = events
	s.index = buildIndex(events)
	return s, nil
}

func loadFile[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, fmt.Errorf("%w: %s not found", emissions.ErrStartup, path)
		}
		return zero, fmt.Errorf("%w: open %s: %w", emissions.ErrStartup, path, err)
	}
	defer func() { _ = f.Close() }()

	v, err := decode(f)
	if err != nil {
		return zero, fmt.Errorf("%w: parse %s: %w", emissions.ErrStartup, path, err)
	}
	return v, nil
}

func buildIndex(events []*emissions.Event) map[string]int {
	idx := make(map[string]int, len(events))
	for i, ev := range events {
		idx[ev.ID] = i
	}
	return idx
}

// ListAssets returns a copy of all assets in file order.
func (s *Store) ListAssets(_ context.Context) ([]emissions.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emissions.Asset(nil), s.assets...), nil
}

// ListEvents returns deep copies of all events in insertion order.
func (s *Store) ListEvents(_ context.Context) ([]emissions.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]emissions.Event, len(s.events))
	for i, ev := range s.events {
		out[i] = *ev.Clone()
	}
	return out, nil
}

// GetAsset returns a copy of one asset.
func (s *Store) GetAsset(_ context.Context, siteID string) (*emissions.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.assetIdx[siteID]
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", siteID, emissions.ErrNotFound)
	}
	a := s.assets[i]
	return &a, nil
}

// GetEvent returns a deep copy of one event.
func (s *Store) GetEvent(_ context.Context, id string) (*emissions.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, err := s.findLocked(id)
	if err != nil {
		return nil, err
	}
	return ev.Clone(), nil
}

// StartInvestigation implements emissions.Store.
func (s *Store) StartInvestigation(_ context.Context, id string, ts time.Time) (*emissions.Event, bool, error) {
	return s.mutate(id, func(ev *emissions.Event) bool { return ev.StartInvestigation(ts) })
}

// SubmitReport implements emissions.Store.
func (s *Store) SubmitReport(_ context.Context, id string, ts time.Time) (*emissions.Event, bool, error) {
	return s.mutate(id, func(ev *emissions.Event) bool { return ev.SubmitReport(ts) })
}

// CompleteRunbookItem implements emissions.Store.
func (s *Store) CompleteRunbookItem(_ context.Context, id, itemID string, ts time.Time) (*emissions.Event, bool, error) {
	return s.mutate(id, func(ev *emissions.Event) bool { return ev.CompleteRunbookItem(itemID, ts) })
}

// mutate applies fn to a copy of the event and, if it reports a change,
// persists the table with the copy swapped in. The in-memory table is only
// replaced once the write has succeeded.
func (s *Store) mutate(id string, fn func(*emissions.Event) bool) (*emissions.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil, false, fmt.Errorf("event %q: %w", id, emissions.ErrNotFound)
	}

	next := s.events[i].Clone()
	if !fn(next) {
		return next, false, nil
	}

	events := make([]*emissions.Event, len(s.events))
	copy(events, s.events)
	events[i] = next
	if err := s.persistLocked(events); err != nil {
		return nil, false, err
	}
	s.events = events
	return next.Clone(), true, nil
}

// ImportEvents implements emissions.Store. The payload is parsed before the
// lock is taken.
func (s *Store) ImportEvents(ctx context.Context, r io.Reader) (emissions.ImportResult, error) {
	incoming, err := table.ParseImport(r)
	if err != nil {
		return emissions.ImportResult{}, err
	}
	res := emissions.ImportResult{BatchID: ulid.Make().String()}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(incoming))
	var added []*emissions.Event
	for _, ev := range incoming {
		if _, ok := s.index[ev.ID]; ok {
			res.Skipped++
			continue
		}
		if _, ok := seen[ev.ID]; ok {
			res.Skipped++
			continue
		}
		seen[ev.ID] = struct{}{}
		added = append(added, ev)
	}
	res.Imported = len(added)
	if len(added) == 0 {
		return res, nil
	}

	events := make([]*emissions.Event, 0, len(s.events)+len(added))
	events = append(events, s.events...)
	events = append(events, added...)
	if err := s.persistLocked(events); err != nil {
		return emissions.ImportResult{}, err
	}
	for i := len(s.events); i < len(events); i++ {
		s.index[events[i].ID] = i
	}
	s.events = events

	s.logger.Info(ctx, "events appended", "batch_id", res.BatchID, "imported", res.Imported, "total", len(events))
	return res, nil
}

func (s *Store) findLocked(id string) (*emissions.Event, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("event %q: %w", id, emissions.ErrNotFound)
	}
	return s.events[i], nil
}

// persistLocked rewrites the events file from events.
func (s *Store) persistLocked(events []*emissions.Event) error {
	start := time.Now()

	var buf bytes.Buffer
	if err := table.WriteEvents(&buf, events); err != nil {
		return fmt.Errorf("%w: encode events: %w", emissions.ErrPersistence, err)
	}
	if err := s.write(s.eventsPath, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write %s: %w", emissions.ErrPersistence, s.eventsPath, err)
	}
	// the new file is already in place, so a failed directory sync cannot be
	// rolled back and is only reported
	if err := syncDir(filepath.Dir(s.eventsPath)); err != nil {
		s.logger.Warn(context.Background(), "data directory sync failed", "dir", filepath.Dir(s.eventsPath), "err", err)
	}

	if s.onPersist != nil {
		s.onPersist(time.Since(start))
	}
	return nil
}

// writeFileAtomic replaces path with data through a synced temp file in the
// same directory.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Chmod(0o644); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
