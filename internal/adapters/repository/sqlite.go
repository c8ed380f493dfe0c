package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/pkg/metrics"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const busyTimeoutMs = 5000

const predictionColumns = `id, username, email, top3, national_percentages, participation,
	margin_1_2, blanco_nulo_impugnado, total_votes, provinciales, bonus,
	created_at, updated_at, sync_pending`

const resultColumns = `id, national_percentages, participation, margin_1_2,
	blanco_nulo_impugnado, total_votes, provinciales, is_published,
	published_at, created_at`

// SQLiteStore is a Store backed by a SQLite file. Structured fields are kept
// as JSON text columns.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMs),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, opts: buildOptions(opts)}
	if n, err := s.Count(ctx); err == nil {
		metrics.UpdatePredictionsStored(n)
	}
	return s, nil
}

// migrateUp runs the embedded migrations. The migrate instance is not closed
// because that would close db.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Upsert(ctx context.Context, p *model.Prediction) (model.Prediction, error) {
	if p == nil {
		return model.Prediction{}, ErrNilInput
	}
	email := model.NormalizeEmail(p.Email)
	if email == "" {
		return model.Prediction{}, ErrInvalidEmail
	}

	next := p.Clone()
	next.Email = email
	next.SyncPending = true

	top3, national, provinces, bonus, err := encodePrediction(&next)
	if err != nil {
		return model.Prediction{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.opts.now()
	var id string
	var createdAt, updatedAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM predictions WHERE email = ?`, email,
	).Scan(&id, &createdAt, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next.ID = s.opts.newID()
		next.CreatedAt = now
		next.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `INSERT INTO predictions (`+predictionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			next.ID, next.Username, email, top3, national, next.Participation,
			next.MarginTopTwo, next.BlankNullContested, nullInt(next.TotalVotes),
			provinces, bonus, next.CreatedAt.UnixNano(), next.UpdatedAt.UnixNano())
	case err != nil:
		return model.Prediction{}, fmt.Errorf("lookup %s: %w", email, err)
	default:
		next.ID = id
		next.CreatedAt = fromNanos(createdAt)
		next.UpdatedAt = bump(now, fromNanos(updatedAt))
		_, err = tx.ExecContext(ctx, `UPDATE predictions SET username = ?, top3 = ?,
			national_percentages = ?, participation = ?, margin_1_2 = ?,
			blanco_nulo_impugnado = ?, total_votes = ?, provinciales = ?, bonus = ?,
			updated_at = ?, sync_pending = 1 WHERE id = ?`,
			next.Username, top3, national, next.Participation, next.MarginTopTwo,
			next.BlankNullContested, nullInt(next.TotalVotes), provinces, bonus,
			next.UpdatedAt.UnixNano(), id)
	}
	if err != nil {
		return model.Prediction{}, fmt.Errorf("store prediction %s: %w", email, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Prediction{}, fmt.Errorf("commit upsert: %w", err)
	}

	if n, err := s.Count(ctx); err == nil {
		metrics.UpdatePredictionsStored(n)
	}
	return next, nil
}

func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (model.Prediction, error) {
	rows, err := s.queryPredictions(ctx, `WHERE email = ?`, model.NormalizeEmail(email))
	if err != nil {
		return model.Prediction{}, err
	}
	if len(rows) == 0 {
		return model.Prediction{}, ErrNotFound
	}
	return rows[0].Prediction, rows[0].Err
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.Row, error) {
	return s.queryPredictions(ctx, `ORDER BY created_at, rowid`)
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count predictions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, email string, updatedAt time.Time) (bool, error) {
	email = model.NormalizeEmail(email)
	res, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET sync_pending = 0
		 WHERE email = ? AND updated_at = ? AND sync_pending = 1`,
		email, updatedAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("mark synced %s: %w", email, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetByEmail(ctx, email); errors.Is(err, ErrNotFound) {
			return false, ErrNotFound
		}
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListSyncPending(ctx context.Context) ([]model.Prediction, error) {
	rows, err := s.queryPredictions(ctx, `WHERE sync_pending = 1 ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	out := make([]model.Prediction, 0, len(rows))
	for _, r := range rows {
		if r.Err != nil {
			continue
		}
		out = append(out, r.Prediction)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteWhere(ctx context.Context, match func(*model.Prediction) bool) (int, error) {
	rows, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var ids []string
	for i := range rows {
		if match(&rows[i].Prediction) {
			ids = append(ids, rows[i].Prediction.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM predictions WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete prediction %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}

	if n, err := s.Count(ctx); err == nil {
		metrics.UpdatePredictionsStored(n)
	}
	return len(ids), nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, o *model.OfficialResult) (model.OfficialResult, error) {
	if o == nil {
		return model.OfficialResult{}, ErrNilInput
	}
	stored := o.Clone()
	stored.ID = s.opts.newID()
	stored.CreatedAt = s.opts.now()
	if stored.Published && stored.PublishedAt == nil {
		t := stored.CreatedAt
		stored.PublishedAt = &t
	}

	national, err := json.Marshal(stored.National)
	if err != nil {
		return model.OfficialResult{}, fmt.Errorf("encode national_percentages: %w", err)
	}
	provinces, err := json.Marshal(stored.Provinces)
	if err != nil {
		return model.OfficialResult{}, fmt.Errorf("encode provinciales: %w", err)
	}
	var publishedAt sql.NullInt64
	if stored.PublishedAt != nil {
		publishedAt = sql.NullInt64{Int64: stored.PublishedAt.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO official_results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, string(national), stored.Participation, stored.MarginTopTwo,
		stored.BlankNullContested, nullInt(stored.TotalVotes), string(provinces),
		stored.Published, publishedAt, stored.CreatedAt.UnixNano())
	if err != nil {
		return model.OfficialResult{}, fmt.Errorf("store official result: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) CurrentPublished(ctx context.Context) (*model.OfficialResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM official_results
		WHERE is_published = 1 AND published_at IS NOT NULL
		ORDER BY published_at DESC, created_at DESC LIMIT 1`)

	var (
		o                   model.OfficialResult
		national, provinces string
		votes, publishedAt  sql.NullInt64
		createdAt           int64
	)
	err := row.Scan(&o.ID, &national, &o.Participation, &o.MarginTopTwo,
		&o.BlankNullContested, &votes, &provinces, &o.Published, &publishedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no published result is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("load official result: %w", err)
	}
	if err := json.Unmarshal([]byte(national), &o.National); err != nil {
		return nil, fmt.Errorf("%w: official result %s national_percentages: %w", ErrCorrupt, o.ID, err)
	}
	if err := json.Unmarshal([]byte(provinces), &o.Provinces); err != nil {
		return nil, fmt.Errorf("%w: official result %s provinciales: %w", ErrCorrupt, o.ID, err)
	}
	o.TotalVotes = intPtr(votes)
	if publishedAt.Valid {
		t := fromNanos(publishedAt.Int64)
		o.PublishedAt = &t
	}
	o.CreatedAt = fromNanos(createdAt)
	return &o, nil
}

// queryPredictions scans every matching record. JSON columns that fail to
// decode are reported through Row.Err instead of failing the whole query.
func (s *SQLiteStore) queryPredictions(ctx context.Context, tail string, args ...any) ([]model.Row, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+predictionColumns+` FROM predictions `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var (
			p                                model.Prediction
			top3, national, provinces, bonus string
			votes                            sql.NullInt64
			createdAt, updatedAt             int64
		)
		if err := rows.Scan(&p.ID, &p.Username, &p.Email, &top3, &national,
			&p.Participation, &p.MarginTopTwo, &p.BlankNullContested, &votes,
			&provinces, &bonus, &createdAt, &updatedAt, &p.SyncPending); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.TotalVotes = intPtr(votes)
		p.CreatedAt = fromNanos(createdAt)
		p.UpdatedAt = fromNanos(updatedAt)

		var errs []error
		decode := func(column, raw string, dst any) {
			if err := json.Unmarshal([]byte(raw), dst); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", column, err))
			}
		}
		decode("top3", top3, &p.TopThree)
		decode("national_percentages", national, &p.National)
		decode("provinciales", provinces, &p.Provinces)
		decode("bonus", bonus, &p.Bonus)

		row := model.Row{Prediction: p}
		if len(errs) > 0 {
			row.Err = fmt.Errorf("%w: prediction %s: %w", ErrCorrupt, p.ID, errors.Join(errs...))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate predictions: %w", err)
	}
	return out, nil
}

func encodePrediction(p *model.Prediction) (top3, national, provinces, bonus string, err error) {
	parts := []struct {
		name string
		v    any
		dst  *string
	}{
		{"top3", p.TopThree, &top3},
		{"national_percentages", p.National, &national},
		{"provinciales", p.Provinces, &provinces},
		{"bonus", p.Bonus, &bonus},
	}
	for _, part := range parts {
		b, mErr := json.Marshal(part.v)
		if mErr != nil {
			return "", "", "", "", fmt.Errorf("encode %s: %w", part.name, mErr)
		}
		*part.dst = string(b)
	}
	return top3, national, provinces, bonus, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
