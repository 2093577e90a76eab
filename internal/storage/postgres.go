package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"greplay/internal/logger"
	"greplay/pkg/health"
	"greplay/pkg/models"
	"greplay/pkg/retry"
)

// PostgresBackend keeps every message in one table keyed by id and removes
// old rows with Clean.
type PostgresBackend struct {
	conn      ConnectionConfig
	db        *sql.DB
	retention int
	call      caller
	logger    logger.Logger
	now       func() time.Time

	table string
	meta  string
}

func NewPostgresBackend(ctx context.Context, conn ConnectionConfig, opts Options) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", conn.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	b := newPostgresBackend(conn, db, opts)
	if err := b.call.do(ctx, "ping", db.PingContext); err != nil {
		db.Close()
		return nil, err
	}

	b.logger.Infow("PostgreSQL backend connected", "url", conn.Redacted())
	return b, nil
}

func newPostgresBackend(conn ConnectionConfig, db *sql.DB, opts Options) *PostgresBackend {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.NopLogger()
	}
	return &PostgresBackend{
		conn:      conn,
		db:        db,
		retention: opts.RetentionHours,
		call: caller{
			backend:    "postgresql",
			timeout:    opts.Timeout,
			maxRetries: opts.MaxRetries,
			classify:   classifyPostgresError,
		},
		logger: log.Component("storage"),
		now:    now,
		table:  pq.QuoteIdentifier(conn.Basename),
		meta:   pq.QuoteIdentifier(conn.MetaName()),
	}
}

// classifyPostgresError retries connection, resource and rollback failures;
// every other server error is final.
func classifyPostgresError(err error) error {
	if errors.Is(err, context.Canceled) {
		return retry.NewFatalError(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return err
		}
		return retry.NewFatalError(err)
	}
	return err
}

func (b *PostgresBackend) Name() string {
	return "postgresql"
}

func (b *PostgresBackend) exec(ctx context.Context, op, query string, args ...interface{}) error {
	return b.call.do(ctx, op, func(ctx context.Context) error {
		_, err := b.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (b *PostgresBackend) Exists(ctx context.Context) (bool, error) {
	var exists bool
	err := b.call.do(ctx, "exists", func(ctx context.Context) error {
		return b.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = current_schema() AND table_name = $1
			)`, b.conn.Basename).Scan(&exists)
	})
	return exists, err
}

func (b *PostgresBackend) Setup(ctx context.Context, force bool) (SetupStatus, error) {
	exists, err := b.Exists(ctx)
	if err != nil {
		return SetupCreated, err
	}
	if exists && !force {
		return SetupAlreadyExists, nil
	}

	status := SetupCreated
	if force {
		if err := b.Teardown(ctx); err != nil {
			return status, err
		}
		if exists {
			status = SetupRecreated
		}
	}

	if err := b.exec(ctx, "setup", fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       text PRIMARY KEY,
			kind       text NOT NULL,
			body       jsonb NOT NULL,
			updated_at timestamptz NOT NULL
		)`, b.meta)); err != nil {
		return status, err
	}

	b.logger.Debugw("Creating retention policy", "name", b.conn.PolicyName())
	if err := b.putMeta(ctx, b.conn.PolicyName(), "policy", map[string]interface{}{
		"retention_hours": b.retention,
		"column":          "pubtime",
	}); err != nil {
		return status, err
	}

	b.logger.Debugw("Creating mappings", "name", b.conn.MappingsName())
	if err := b.putMeta(ctx, b.conn.MappingsName(), "mappings", map[string]interface{}{
		"columns": []string{"id", "pubtime", "indexed_at", "topic", "data_id", "geometry", "document"},
		"indexes": []string{b.conn.Basename + "_pubtime_idx", b.conn.Basename + "_topic_idx"},
	}); err != nil {
		return status, err
	}

	b.logger.Debugw("Creating table", "name", b.conn.Basename)
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id         text PRIMARY KEY,
				pubtime    timestamptz NOT NULL,
				indexed_at timestamptz NOT NULL,
				topic      text NOT NULL DEFAULT '',
				data_id    text,
				geometry   jsonb,
				document   jsonb NOT NULL
			)`, b.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (pubtime, id)`,
			pq.QuoteIdentifier(b.conn.Basename+"_pubtime_idx"), b.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (topic)`,
			pq.QuoteIdentifier(b.conn.Basename+"_topic_idx"), b.table),
	}
	for _, stmt := range statements {
		if err := b.exec(ctx, "setup", stmt); err != nil {
			return status, err
		}
	}

	return status, nil
}

func (b *PostgresBackend) putMeta(ctx context.Context, name, kind string, body map[string]interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return b.exec(ctx, "setup", fmt.Sprintf(`
		INSERT INTO %s (name, kind, body, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET kind = EXCLUDED.kind, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		b.meta), name, kind, string(raw), b.now().UTC())
}

func (b *PostgresBackend) Teardown(ctx context.Context) error {
	b.logger.Debugw("Dropping table", "name", b.conn.Basename)
	if err := b.exec(ctx, "teardown", fmt.Sprintf(`DROP TABLE IF EXISTS %s`, b.table)); err != nil {
		return err
	}
	return b.exec(ctx, "teardown", fmt.Sprintf(`DROP TABLE IF EXISTS %s`, b.meta))
}

func (b *PostgresBackend) Save(ctx context.Context, msg *models.NotificationMessage) error {
	sd, err := newStoredDocument(msg, b.now())
	if err != nil {
		return err
	}

	var geometry interface{}
	if msg.Geometry != nil {
		raw, err := json.Marshal(msg.Geometry)
		if err != nil {
			return fmt.Errorf("encode geometry of %s: %w", sd.ID, err)
		}
		geometry = string(raw)
	}

	b.logger.Debugw("Saving message", "id", sd.ID, "table", b.conn.Basename)
	return b.exec(ctx, "save", fmt.Sprintf(`
		INSERT INTO %s (id, pubtime, indexed_at, topic, data_id, geometry, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			pubtime = EXCLUDED.pubtime,
			indexed_at = EXCLUDED.indexed_at,
			topic = EXCLUDED.topic,
			data_id = EXCLUDED.data_id,
			geometry = EXCLUDED.geometry,
			document = EXCLUDED.document`, b.table),
		sd.ID, sd.PubTime, sd.IndexedAt, sd.Topic, msg.DataID(), geometry, string(sd.Raw))
}

func (b *PostgresBackend) RecordExists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := b.call.do(ctx, "record_exists", func(ctx context.Context) error {
		var one int
		err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, b.table), id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

func (b *PostgresBackend) Clean(ctx context.Context, maxAgeHours int) (int64, error) {
	cutoff := retentionCutoff(b.now(), maxAgeHours)
	var deleted int64
	err := b.call.do(ctx, "clean", func(ctx context.Context) error {
		res, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE pubtime <= $1`, b.table), cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func (b *PostgresBackend) Query(ctx context.Context, q FeatureQuery) (*FeaturePage, error) {
	query, args := b.featureQuery(q)

	var features []json.RawMessage
	err := b.call.do(ctx, "query", func(ctx context.Context) error {
		rows, err := b.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		features = features[:0]
		for rows.Next() {
			var doc []byte
			if err := rows.Scan(&doc); err != nil {
				return fmt.Errorf("failed to scan feature: %w", err)
			}
			features = append(features, json.RawMessage(doc))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	page := &FeaturePage{}
	page.Features, page.HasMore = trimPage(features, q.Limit)
	if page.Features == nil {
		page.Features = []json.RawMessage{}
	}
	return page, nil
}

func (b *PostgresBackend) featureQuery(q FeatureQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !q.TimeRange.Start.IsZero() {
		conds = append(conds, "pubtime >= "+arg(q.TimeRange.Start))
	}
	if !q.TimeRange.End.IsZero() {
		conds = append(conds, "pubtime <= "+arg(q.TimeRange.End))
	}
	if q.TopicPattern != "" {
		conds = append(conds, "topic ~ "+arg(TopicRegex(q.TopicPattern)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(`SELECT document FROM %s %s ORDER BY pubtime, id LIMIT %s OFFSET %s`,
		b.table, where, arg(fetchLimit(q.Limit)), arg(q.Offset))
	return query, args
}

func (b *PostgresBackend) HealthChecker() health.Checker {
	return health.NewPostgreSQLChecker(b.db)
}

func (b *PostgresBackend) Close(_ context.Context) error {
	return b.db.Close()
}
