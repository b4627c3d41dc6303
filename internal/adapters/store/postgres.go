package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// PostgresStore keeps one row per event in a Postgres table. Patches are
// applied with INSERT .. ON CONFLICT so replays are harmless.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	return &PostgresStore{db: db, tableName: table}
}

func (s *PostgresStore) Name() string { return "postgres" }

// Schema returns the DDL for the events table.
func (s *PostgresStore) Schema() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.tableName)
	b.WriteString("  id BIGSERIAL PRIMARY KEY,\n")
	b.WriteString("  event_id VARCHAR(64) NOT NULL UNIQUE,\n")
	b.WriteString("  seq_no BIGINT NOT NULL DEFAULT 0,\n")
	for _, col := range domain.TextColumns {
		fmt.Fprintf(&b, "  %s TEXT,\n", col)
	}
	for _, col := range domain.LevelColumns {
		fmt.Fprintf(&b, "  %s DOUBLE PRECISION,\n", col)
	}
	for _, col := range domain.FlagColumns() {
		fmt.Fprintf(&b, "  %s BOOLEAN NOT NULL DEFAULT FALSE,\n", col)
	}
	b.WriteString("  created_at TIMESTAMPTZ NOT NULL DEFAULT now()\n);\n")
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s_pending_idx ON %s (ui_done, id);\n", s.tableName, s.tableName)
	return b.String()
}

// EnsureSchema creates the table and index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.Schema()); err != nil {
		return fmt.Errorf("ensure schema %s: %w", s.tableName, err)
	}
	return nil
}

// upsert builds the statement for one patch. Columns appear in a fixed
// order so the statement text is stable for a given set of fields.
func (s *PostgresStore) upsert(p *domain.Patch) (string, []any) {
	cols := []string{"event_id"}
	vals := []string{"$1"}
	args := []any{p.EventID}
	var sets []string

	add := func(col string, v any) {
		args = append(args, v)
		cols = append(cols, col)
		vals = append(vals, fmt.Sprintf("$%d", len(args)))
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	if p.SeqNo != 0 {
		add("seq_no", p.SeqNo)
	}
	for _, col := range domain.TextColumns {
		if v, ok := p.Text[col]; ok {
			add(col, v)
		}
	}
	for _, col := range domain.LevelColumns {
		if v, ok := p.Levels[col]; ok {
			add(col, v)
		}
	}
	for _, col := range p.Flags.Columns() {
		cols = append(cols, col)
		vals = append(vals, "TRUE")
		sets = append(sets, fmt.Sprintf("%s = %s.%s OR EXCLUDED.%s", col, s.tableName, col, col))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (event_id) ", s.tableName, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if len(sets) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	return b.String(), args
}

func (s *PostgresStore) WriteBatch(patches []*domain.Patch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, p := range patches {
		q, args := s.upsert(p)
		if _, err := tx.Exec(q, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert %s: %w", p.EventID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) recordColumns() []string {
	cols := []string{"id", "event_id", "seq_no"}
	cols = append(cols, domain.TextColumns...)
	cols = append(cols, domain.LevelColumns...)
	cols = append(cols, domain.FlagColumns()...)
	return append(cols, "created_at")
}

func readyPredicate() string {
	return "ui_done = FALSE AND " + strings.Join(domain.ReadyMask.Columns(), " AND ")
}

// PollReady marks ready rows as displayed and returns them in a single
// statement. SKIP LOCKED keeps concurrent pollers from returning the same row.
func (s *PostgresStore) PollReady(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	q := fmt.Sprintf(
		"UPDATE %[1]s SET ui_done = TRUE WHERE id IN (SELECT id FROM %[1]s WHERE %[2]s ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED) RETURNING %[3]s",
		s.tableName, readyPredicate(), strings.Join(s.recordColumns(), ", "),
	)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("poll ready: %w", err)
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not promise the subquery order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func scanRecord(rows *sql.Rows) (domain.EventRecord, error) {
	var (
		r      domain.EventRecord
		texts  = make([]sql.NullString, len(domain.TextColumns))
		levels = make([]sql.NullFloat64, len(domain.LevelColumns))
		flags  = make([]bool, len(domain.AllFlags))
	)
	dest := []any{&r.ID, &r.EventID, &r.SeqNo}
	for i := range texts {
		dest = append(dest, &texts[i])
	}
	for i := range levels {
		dest = append(dest, &levels[i])
	}
	for i := range flags {
		dest = append(dest, &flags[i])
	}
	dest = append(dest, &r.CreatedAt)
	if err := rows.Scan(dest...); err != nil {
		return r, fmt.Errorf("scan record: %w", err)
	}

	r.Text = make(map[string]string, len(texts))
	for i, col := range domain.TextColumns {
		if texts[i].Valid {
			r.Text[col] = texts[i].String
		}
	}
	r.Levels = make(map[string]float64, len(levels))
	for i, col := range domain.LevelColumns {
		if levels[i].Valid {
			r.Levels[col] = levels[i].Float64
		}
	}
	for i, f := range domain.AllFlags {
		if flags[i] {
			r.Flags |= f
		}
	}
	return r, nil
}

func (s *PostgresStore) finalizeStatement(rule finalizeRule) string {
	var sets []string
	for _, col := range rule.text {
		sets = append(sets, fmt.Sprintf("%s = COALESCE(NULLIF(%s, ''), $2)", col, col))
	}
	for _, col := range rule.levels {
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, 0)", col, col))
	}
	for _, col := range (rule.flag | rule.also).Columns() {
		sets = append(sets, col+" = TRUE")
	}
	flagCol := rule.flag.Columns()[0]
	return fmt.Sprintf("UPDATE %s SET %s WHERE ui_done = FALSE AND %s = FALSE AND created_at <= $1",
		s.tableName, strings.Join(sets, ", "), flagCol)
}

// Finalize forces every aged, still-unset flag and returns how many flags
// were forced.
func (s *PostgresStore) Finalize(ctx context.Context, cutoffs ports.FinalizeCutoffs) (int64, error) {
	var forced int64
	for _, rule := range finalizeRules {
		cutoff := rule.cutoff(cutoffs)
		if cutoff.IsZero() {
			continue
		}
		args := []any{cutoff}
		if len(rule.text) > 0 {
			args = append(args, rule.textSentinel)
		}
		res, err := s.db.ExecContext(ctx, s.finalizeStatement(rule), args...)
		if err != nil {
			return forced, fmt.Errorf("finalize %s: %w", rule.name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return forced, err
		}
		forced += n
	}
	return forced, nil
}

func (s *PostgresStore) LastSeqNo(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(seq_no), 0) FROM %s", s.tableName)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq_no: %w", err)
	}
	return seq, nil
}

// Ping checks connectivity with a short deadline.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

var _ ports.Store = (*PostgresStore)(nil)
