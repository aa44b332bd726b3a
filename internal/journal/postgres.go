package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxact/pkg/types"
)

const ddlIntentJournal = `
CREATE TABLE IF NOT EXISTS intent_journal (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    utterance    TEXT         NOT NULL DEFAULT '',
    kind         TEXT         NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
    entities     JSONB        NOT NULL DEFAULT '{}',
    success      BOOLEAN      NOT NULL,
    error        TEXT         NOT NULL DEFAULT '',
    at           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns  BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_intent_journal_session_at
    ON intent_journal (session_id, at);
`

// Postgres is a Journal backed by a PostgreSQL intent_journal table.
// All methods are safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Journal = (*Postgres)(nil)

// OpenPostgres connects to dsn, verifies the connection and creates the
// journal table when it does not exist.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the journal schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlIntentJournal); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO intent_journal
		    (session_id, utterance, kind, confidence, entities, success, error, at, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	entities := e.Intent.Entities
	if entities == nil {
		entities = types.Entities{}
	}
	raw, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("journal: encode entities: %w", err)
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = p.pool.Exec(ctx, q,
		e.SessionID,
		e.Utterance,
		string(e.Intent.Kind),
		e.Intent.Confidence,
		raw,
		e.Success,
		e.Error,
		at,
		e.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

func (p *Postgres) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	// The newest rows are selected, then returned oldest first.
	const q = `
		SELECT session_id, utterance, kind, confidence, entities, success, error, at, duration_ns
		FROM (
		    SELECT * FROM intent_journal
		    WHERE  $1 = '' OR session_id = $1
		    ORDER  BY at DESC, id DESC
		    LIMIT  $2
		) recent
		ORDER BY at, id`

	rows, err := p.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e          Entry
			kind       string
			raw        []byte
			durationNS int64
		)
		if err := row.Scan(
			&e.SessionID,
			&e.Utterance,
			&kind,
			&e.Intent.Confidence,
			&raw,
			&e.Success,
			&e.Error,
			&e.At,
			&durationNS,
		); err != nil {
			return Entry{}, err
		}
		e.Intent.Kind = types.IntentKind(kind)
		if err := json.Unmarshal(raw, &e.Intent.Entities); err != nil {
			return Entry{}, err
		}
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
