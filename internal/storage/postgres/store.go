// Package postgres persists harvested meets, entities and results in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
)

const defaultSearchLimit = 50

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements harvest.Store.
type Store struct {
	pool pool
}

var _ harvest.Store = (*Store)(nil)

// New connects to Postgres.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InsertMeet writes the descriptor once; repeats report inserted=false.
func (s *Store) InsertMeet(ctx context.Context, meet harvest.MeetDescriptor) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO meets (external_id, title, meet_date, source_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO NOTHING`,
		meet.ExternalID, meet.Title, meet.Date, meet.SourceURL,
	)
	if err != nil {
		return false, fmt.Errorf("insert meet %d: %w", meet.ExternalID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MeetIngested reports whether ingestion of the meet completed. Unknown meets
// are not ingested.
func (s *Store) MeetIngested(ctx context.Context, id int64) (bool, error) {
	var done bool
	err := s.pool.QueryRow(ctx, `
		SELECT ingested_at IS NOT NULL FROM meets WHERE external_id = $1`, id,
	).Scan(&done)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("meet %d ingested: %w", id, err)
	}
	return done, nil
}

// MarkMeetIngested stamps the first completion time. It returns
// harvest.ErrNotFound when the meet was never inserted.
func (s *Store) MarkMeetIngested(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE meets SET ingested_at = COALESCE(ingested_at, $2)
		WHERE external_id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("mark meet %d ingested: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrNotFound
	}
	return nil
}

// GetAthlete loads one athlete by source ID.
func (s *Store) GetAthlete(ctx context.Context, id int64) (harvest.Athlete, error) {
	var (
		a   harvest.Athlete
		sex string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(class_year, 0), school_id, sex
		FROM athletes WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.ClassYear, &a.SchoolID, &sex)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.Athlete{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.Athlete{}, fmt.Errorf("get athlete %d: %w", id, err)
	}
	a.Sex = harvest.Sex(sex)
	return a, nil
}

// InsertAthlete returns harvest.ErrDuplicate when the ID already exists.
func (s *Store) InsertAthlete(ctx context.Context, a harvest.Athlete) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO athletes (id, name, class_year, school_id, sex)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Name, a.ClassYear, a.SchoolID, string(a.Sex),
	)
	if err != nil {
		return fmt.Errorf("insert athlete %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.ErrDuplicate
	}
	return nil
}

// GetSchoolByKey loads a school by normalized name.
func (s *Store) GetSchoolByKey(ctx context.Context, key string) (harvest.School, error) {
	var (
		school   harvest.School
		division string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, name_key, COALESCE(division, ''), COALESCE(conference, '')
		FROM schools WHERE name_key = $1`, key,
	).Scan(&school.ID, &school.Name, &school.Key, &division, &school.Conference)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.School{}, harvest.ErrNotFound
	}
	if err != nil {
		return harvest.School{}, fmt.Errorf("get school %q: %w", key, err)
	}
	school.Division = harvest.Division(division)
	return school, nil
}

// InsertSchool returns the generated ID, or harvest.ErrDuplicate when the key
// is taken.
func (s *Store) InsertSchool(ctx context.Context, school harvest.School) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO schools (name, name_key, division, conference)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		ON CONFLICT (name_key) DO NOTHING
		RETURNING id`,
		school.Name, school.Key, string(school.Division), school.Conference,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, harvest.ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("insert school %q: %w", school.Key, err)
	}
	return id, nil
}

// InsertResults writes rows in one transaction. Rows whose (meet, athlete,
// event) key exists are skipped; any other failure rolls the whole call back.
func (s *Store) InsertResults(ctx context.Context, rows []harvest.ResultRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin results tx: %w", err)
	}
	inserted := 0
	for _, row := range rows {
		tag, err := tx.Exec(ctx, `
			INSERT INTO results (meet_id, athlete_id, event, sex, meet_date, place, mark_seconds, raw_reference)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (meet_id, athlete_id, event) DO NOTHING`,
			row.MeetID, row.AthleteID, string(row.Event), string(row.Sex), row.MeetDate,
			row.Place, row.Mark, row.RawReference,
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("insert result meet=%d athlete=%d event=%s: %w", row.MeetID, row.AthleteID, row.Event, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit results tx: %w", err)
	}
	return inserted, nil
}

// RecordUnresolved stores a row whose athlete could not be resolved. A row
// already recorded for the same meet, event, sex, place and reference is kept
// as is.
func (s *Store) RecordUnresolved(ctx context.Context, row harvest.UnresolvedRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unresolved_results (meet_id, event, sex, place, mark_seconds, raw_reference, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT unresolved_results_row_key DO NOTHING`,
		row.MeetID, string(row.Event), string(row.Sex), row.Place, row.Mark, row.RawReference, row.Reason,
	)
	if err != nil {
		return fmt.Errorf("record unresolved meet=%d: %w", row.MeetID, err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchAthletes matches names case-insensitively, exactly or by substring.
func (s *Store) SearchAthletes(ctx context.Context, name string, exact bool, limit int) ([]harvest.Athlete, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	name = strings.TrimSpace(name)
	query := `
		SELECT id, name, COALESCE(class_year, 0), school_id, sex
		FROM athletes WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY name, id LIMIT $2`
	arg := likeEscaper.Replace(name)
	if exact {
		query = `
		SELECT id, name, COALESCE(class_year, 0), school_id, sex
		FROM athletes WHERE lower(name) = lower($1)
		ORDER BY name, id LIMIT $2`
		arg = name
	}
	rows, err := s.pool.Query(ctx, query, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("search athletes: %w", err)
	}
	defer rows.Close()

	var out []harvest.Athlete
	for rows.Next() {
		var (
			a   harvest.Athlete
			sex string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.ClassYear, &a.SchoolID, &sex); err != nil {
			return nil, fmt.Errorf("scan athlete: %w", err)
		}
		a.Sex = harvest.Sex(sex)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search athletes: %w", err)
	}
	return out, nil
}
