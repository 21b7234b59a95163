// Package pgstore provides a PostgreSQL implementation of emissions.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/plume/internal/emissions"
	"github.com/linnemanlabs/plume/internal/emissions/table"
)

var tracer = otel.Tracer("github.com/linnemanlabs/plume/internal/emissions/pgstore")

//go:embed schema.sql
var schema string

// Store persists assets and events in PostgreSQL. Row locks serialize
// mutations of the same event.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("%w: apply schema: %w", emissions.ErrStartup, err)
	}
	return &Store{pool: pool}, nil
}

const eventColumns = `id, site_id, detected_at, detection_type, est_ch4_kgph, confidence,
	lat, lon, status, investigation_started_at, report_submitted_at, notes`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// SeedAssets upserts assets, keeping table order for new rows.
func (s *Store) SeedAssets(ctx context.Context, assets []emissions.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, "pgstore.SeedAssets", "UPSERT")
	defer span.End()

	batch := &pgx.Batch{}
	for _, a := range assets {
		batch.Queue(`INSERT INTO assets (site_id, site_name, operator, lat, lon)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (site_id) DO UPDATE SET
				site_name = EXCLUDED.site_name,
				operator = EXCLUDED.operator,
				lat = EXCLUDED.lat,
				lon = EXCLUDED.lon`,
			a.SiteID, a.SiteName, a.Operator, a.Lat, a.Lon)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fail(span, fmt.Errorf("%w: seed assets: %w", emissions.ErrStartup, err))
	}
	return nil
}

// SeedEvents inserts events whose ids are not yet stored and returns how many
// were added.
func (s *Store) SeedEvents(ctx context.Context, events []*emissions.Event) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.SeedEvents", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fail(span, fmt.Errorf("%w: begin tx: %w", emissions.ErrStartup, err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	n, err := insertEvents(ctx, tx, events)
	if err != nil {
		return 0, fail(span, fmt.Errorf("%w: seed events: %w", emissions.ErrStartup, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fail(span, fmt.Errorf("%w: commit: %w", emissions.ErrStartup, err))
	}
	return n, nil
}

// ListAssets returns all assets in seed order.
func (s *Store) ListAssets(ctx context.Context) ([]emissions.Asset, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAssets", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT site_id, site_name, operator, lat, lon FROM assets ORDER BY seq`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query assets: %w", err))
	}
	assets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (emissions.Asset, error) {
		var a emissions.Asset
		err := row.Scan(&a.SiteID, &a.SiteName, &a.Operator, &a.Lat, &a.Lon)
		return a, err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan assets: %w", err))
	}
	return assets, nil
}

// ListEvents returns all events in insertion order.
func (s *Store) ListEvents(ctx context.Context) ([]emissions.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.ListEvents", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY seq`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query events: %w", err))
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (emissions.Event, error) {
		ev, err := scanEvent(row)
		if err != nil {
			return emissions.Event{}, err
		}
		return *ev, nil
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan events: %w", err))
	}
	return events, nil
}

// GetAsset returns one asset.
func (s *Store) GetAsset(ctx context.Context, siteID string) (*emissions.Asset, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAsset", "SELECT")
	defer span.End()

	var a emissions.Asset
	err := s.pool.QueryRow(ctx,
		`SELECT site_id, site_name, operator, lat, lon FROM assets WHERE site_id = $1`, siteID,
	).Scan(&a.SiteID, &a.SiteName, &a.Operator, &a.Lat, &a.Lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("asset %q: %w", siteID, emissions.ErrNotFound)
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("get asset: %w", err))
	}
	return &a, nil
}

// GetEvent returns one event.
func (s *Store) GetEvent(ctx context.Context, id string) (*emissions.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.GetEvent", "SELECT")
	defer span.End()

	ev, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %q: %w", id, emissions.ErrNotFound)
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("get event: %w", err))
	}
	return ev, nil
}

// StartInvestigation implements emissions.Store.
func (s *Store) StartInvestigation(ctx context.Context, id string, ts time.Time) (*emissions.Event, bool, error) {
	return s.mutate(ctx, "pgstore.StartInvestigation", id, func(ev *emissions.Event) bool {
		return ev.StartInvestigation(ts)
	})
}

// SubmitReport implements emissions.Store.
func (s *Store) SubmitReport(ctx context.Context, id string, ts time.Time) (*emissions.Event, bool, error) {
	return s.mutate(ctx, "pgstore.SubmitReport", id, func(ev *emissions.Event) bool {
		return ev.SubmitReport(ts)
	})
}

// CompleteRunbookItem implements emissions.Store.
func (s *Store) CompleteRunbookItem(ctx context.Context, id, itemID string, ts time.Time) (*emissions.Event, bool, error) {
	return s.mutate(ctx, "pgstore.CompleteRunbookItem", id, func(ev *emissions.Event) bool {
		return ev.CompleteRunbookItem(itemID, ts)
	})
}

// mutate locks the event row, applies fn and writes the row back if fn
// reports a change.
func (s *Store) mutate(ctx context.Context, name, id string, fn func(*emissions.Event) bool) (*emissions.Event, bool, error) {
	ctx, span := startSpan(ctx, name, "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("%w: begin tx: %w", emissions.ErrPersistence, err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	ev, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("event %q: %w", id, emissions.ErrNotFound)
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("lock event: %w", err))
	}

	if !fn(ev) {
		return ev, false, nil
	}

	notes, err := json.Marshal(ev.Notes)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("%w: encode notes: %w", emissions.ErrPersistence, err))
	}
	_, err = tx.Exec(ctx, `UPDATE events SET
			status = $2,
			investigation_started_at = $3,
			report_submitted_at = $4,
			notes = $5
		WHERE id = $1`,
		ev.ID, string(ev.Status), ev.InvestigationStartedAt, ev.ReportSubmittedAt, notes)
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("%w: update event: %w", emissions.ErrPersistence, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fail(span, fmt.Errorf("%w: commit: %w", emissions.ErrPersistence, err))
	}
	return ev, true, nil
}

// ImportEvents implements emissions.Store. Rows whose id already exists,
// including repeats within the payload, are skipped by the primary key.
func (s *Store) ImportEvents(ctx context.Context, r io.Reader) (emissions.ImportResult, error) {
	ctx, span := startSpan(ctx, "pgstore.ImportEvents", "INSERT")
	defer span.End()

	incoming, err := table.ParseImport(r)
	if err != nil {
		return emissions.ImportResult{}, fail(span, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return emissions.ImportResult{}, fail(span, fmt.Errorf("%w: begin tx: %w", emissions.ErrPersistence, err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	n, err := insertEvents(ctx, tx, incoming)
	if err != nil {
		return emissions.ImportResult{}, fail(span, fmt.Errorf("%w: insert events: %w", emissions.ErrPersistence, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return emissions.ImportResult{}, fail(span, fmt.Errorf("%w: commit: %w", emissions.ErrPersistence, err))
	}

	res := emissions.ImportResult{
		BatchID:  ulid.Make().String(),
		Imported: n,
		Skipped:  len(incoming) - n,
	}
	span.SetAttributes(attribute.Int("import.imported", res.Imported), attribute.Int("import.skipped", res.Skipped))
	return res, nil
}

// insertEvents inserts events in order, ignoring id conflicts, and returns
// the number of rows added.
func insertEvents(ctx context.Context, tx pgx.Tx, events []*emissions.Event) (int, error) {
	added := 0
	for _, ev := range events {
		notes, err := json.Marshal(ev.Notes)
		if err != nil {
			return 0, fmt.Errorf("event %q: encode notes: %w", ev.ID, err)
		}
		tag, err := tx.Exec(ctx, `INSERT INTO events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING`,
			ev.ID, ev.SiteID, nullTime(ev.DetectedAt), string(ev.DetectionType),
			ev.EstCH4KgPerHour, ev.Confidence, ev.Lat, ev.Lon, string(ev.Status),
			ev.InvestigationStartedAt, ev.ReportSubmittedAt, notes)
		if err != nil {
			return 0, fmt.Errorf("event %q: %w", ev.ID, err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

func scanEvent(row pgx.Row) (*emissions.Event, error) {
	var (
		ev         emissions.Event
		detected   *time.Time
		detection  string
		status     string
		notes      []byte
		started    *time.Time
		reportedAt *time.Time
	)
	err := row.Scan(&ev.ID, &ev.SiteID, &detected, &detection, &ev.EstCH4KgPerHour, &ev.Confidence,
		&ev.Lat, &ev.Lon, &status, &started, &reportedAt, &notes)
	if err != nil {
		return nil, err
	}
	if detected != nil {
		ev.DetectedAt = emissions.Truncate(*detected)
	}
	ev.DetectionType = emissions.DetectionType(detection)
	ev.Status = emissions.Status(status)
	ev.InvestigationStartedAt = utcPtr(started)
	ev.ReportSubmittedAt = utcPtr(reportedAt)
	ev.Notes = emissions.ParseNotes(string(notes))
	return &ev, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := emissions.Truncate(*t)
	return &u
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
