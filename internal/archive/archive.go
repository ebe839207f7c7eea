// Package archive implements SPEC_FULL.md §4.8 StatsArchive: an optional,
// non-core SQLite-backed sink for historical proxied-request records,
// grounded on the teacher's internal/store/sqlite.go + sqlite_logs.go
// (WAL mode, single writer connection, go:embed schema).
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// record is one queued write; the channel decouples StatsMiddleware from
// SQLite write latency entirely.
type record struct {
	method     string
	path       string
	status     int
	durationMs int64
	upstream   string
	at         time.Time
}

// ArchivedRequest is one row returned by QueryRecent.
type ArchivedRequest struct {
	ID         int64     `json:"id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Upstream   string    `json:"upstream,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// queueDepth bounds the in-memory backlog before Submit starts dropping
// records rather than blocking the caller.
const queueDepth = 1024

// Archive is spec.md's optional StatsArchive. A nil *Archive means
// archival is disabled — every core property holds with it absent. Its
// methods do not accept a nil receiver; callers check for nil first.
type Archive struct {
	db     *sql.DB
	queue  chan record
	cancel context.CancelFunc
	done   chan struct{}
}

// Open creates or attaches to the SQLite database at path, applies the
// embedded schema, and starts the async writer goroutine.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Archive{
		db:     db,
		queue:  make(chan record, queueDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go a.run(ctx)
	return a, nil
}

func (a *Archive) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-a.queue:
			a.write(rec)
		}
	}
}

func (a *Archive) write(rec record) {
	_, err := a.db.Exec(
		`INSERT INTO requests (method, path, status, duration_ms, upstream, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.method, rec.path, rec.status, rec.durationMs, nullIfEmpty(rec.upstream), rec.at.Unix(),
	)
	if err != nil {
		slog.Warn("archive write failed", "error", err)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Submit enqueues a record without blocking; a saturated queue drops the
// record and logs a warning, per SPEC_FULL.md §4.6/§7's ArchiveUnavailable
// degradation.
func (a *Archive) Submit(method, path string, status int, durationMs int64, upstream string, at time.Time) {
	rec := record{method: method, path: path, status: status, durationMs: durationMs, upstream: upstream, at: at}
	select {
	case a.queue <- rec:
	default:
		slog.Warn("archive queue full, dropping request record", "path", path)
	}
}

// QueryRecent returns up to limit archived requests, most recent first,
// skipping offset rows.
func (a *Archive) QueryRecent(ctx context.Context, limit, offset int) ([]ArchivedRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, method, path, status, duration_ms, upstream, created_at
		 FROM requests ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []ArchivedRequest
	for rows.Next() {
		var rec ArchivedRequest
		var upstream sql.NullString
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.Method, &rec.Path, &rec.Status, &rec.DurationMs, &upstream, &createdAt); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		rec.Upstream = upstream.String
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close stops the writer goroutine and closes the database.
func (a *Archive) Close() error {
	a.cancel()
	<-a.done
	return a.db.Close()
}
