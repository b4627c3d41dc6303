package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

func newMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, "wagon_events"), mock
}

func TestPostgresStoreWriteBatch(t *testing.T) {
	s, mock := newMock(t)

	start := domain.NewPatch("car-1").SetText(domain.ColImgCar, "/a.jpg").Mark(domain.FlagStart)
	start.SeqNo = 3
	bare := domain.NewPatch("car-2")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wagon_events (event_id, seq_no, img_car_path, start_done) VALUES ($1, $2, $3, TRUE) ON CONFLICT (event_id) DO UPDATE SET seq_no = EXCLUDED.seq_no, img_car_path = EXCLUDED.img_car_path, start_done = wagon_events.start_done OR EXCLUDED.start_done")).
		WithArgs("car-1", int64(3), "/a.jpg").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wagon_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING")).
		WithArgs("car-2").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	if err := s.WriteBatch([]*domain.Patch{start, bare}); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreWriteBatchRollsBack(t *testing.T) {
	s, mock := newMock(t)

	p := domain.NewPatch("car-1").SetLevel(domain.ColWS2dB, 7.5).Mark(domain.FlagZone2)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wagon_events (event_id, ws2_db, zone2_done) VALUES ($1, $2, TRUE)")).
		WithArgs("car-1", 7.5).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := s.WriteBatch([]*domain.Patch{p}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreWriteBatchEmpty(t *testing.T) {
	s, mock := newMock(t)
	if err := s.WriteBatch(nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func recordRow(id int64, eventID, carNo string, created time.Time) []driver.Value {
	row := []driver.Value{id, eventID, int64(id)}
	for _, col := range domain.TextColumns {
		if col == domain.ColCarNo {
			row = append(row, carNo)
			continue
		}
		row = append(row, nil)
	}
	row = append(row, 4.2, 1.0, nil, 0.0)
	for _, f := range domain.AllFlags {
		row = append(row, f != 0)
	}
	return append(row, created)
}

func TestPostgresStorePollReady(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	cols := s.recordColumns()
	rows := sqlmock.NewRows(cols).
		AddRow(recordRow(9, "car-9", "109", now)...).
		AddRow(recordRow(4, "car-4", "104", now)...)

	q := "UPDATE wagon_events SET ui_done = TRUE WHERE id IN (SELECT id FROM wagon_events WHERE ui_done = FALSE AND start_done AND car_no_done AND zone1_done AND zone2_done AND wheel_ws_done AND wheel_ds_done ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED) RETURNING " + strings.Join(cols, ", ")
	mock.ExpectQuery(regexp.QuoteMeta(q)).WithArgs(50).WillReturnRows(rows)

	got, err := s.PollReady(context.Background(), 50)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(got) != 2 || got[0].EventID != "car-4" || got[1].EventID != "car-9" {
		t.Fatalf("expected records sorted by id, got %+v", got)
	}
	r := got[0]
	if r.CarNo() != "104" || r.Levels[domain.ColWS1dB] != 4.2 {
		t.Fatalf("record fields not scanned: %+v", r)
	}
	if _, ok := r.Levels[domain.ColWS2dB]; ok {
		t.Fatalf("null level should be absent")
	}
	if _, ok := r.Text[domain.ColImgCar]; ok {
		t.Fatalf("null text should be absent")
	}
	if !r.Flags.Has(domain.ReadyMask | domain.FlagUI) {
		t.Fatalf("flags not scanned: %b", r.Flags)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreFinalize(t *testing.T) {
	s, mock := newMock(t)
	cutoff := time.Now().Add(-5 * time.Second)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE wagon_events SET car_no = COALESCE(NULLIF(car_no, ''), $2), start_done = TRUE, car_no_done = TRUE WHERE ui_done = FALSE AND car_no_done = FALSE AND created_at <= $1")).
		WithArgs(cutoff, domain.CarNoNone).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(startFinalizeSQL)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wagon_events SET ws1_db = COALESCE(ws1_db, 0), ds1_db = COALESCE(ds1_db, 0), zone1_done = TRUE WHERE ui_done = FALSE AND zone1_done = FALSE AND created_at <= $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wagon_events SET ds_wheel1_status = COALESCE(NULLIF(ds_wheel1_status, ''), $2), ds_wheel2_status = COALESCE(NULLIF(ds_wheel2_status, ''), $2), wheel_ds_done = TRUE WHERE ui_done = FALSE AND wheel_ds_done = FALSE AND created_at <= $1")).
		WithArgs(cutoff, domain.StatusNoData).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.Finalize(context.Background(), ports.FinalizeCutoffs{CarNo: cutoff, Zone1: cutoff, WheelDS: cutoff})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 forced flags, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

const startFinalizeSQL = "UPDATE wagon_events SET start_done = TRUE WHERE ui_done = FALSE AND start_done = FALSE AND created_at <= $1"

func TestPostgresStoreFinalizeForcesLostStart(t *testing.T) {
	s, mock := newMock(t)
	cutoff := time.Now().Add(-5 * time.Second)

	// car_no_done is already set, so only the start rule touches the row
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wagon_events SET car_no = COALESCE(NULLIF(car_no, ''), $2), start_done = TRUE, car_no_done = TRUE WHERE ui_done = FALSE AND car_no_done = FALSE AND created_at <= $1")).
		WithArgs(cutoff, domain.CarNoNone).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(startFinalizeSQL)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Finalize(context.Background(), ports.FinalizeCutoffs{CarNo: cutoff})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 forced flag, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreSchemaAndSeq(t *testing.T) {
	s, mock := newMock(t)

	ddl := s.Schema()
	for _, want := range []string{"event_id VARCHAR(64) NOT NULL UNIQUE", "ui_done BOOLEAN NOT NULL DEFAULT FALSE", "ws2_db DOUBLE PRECISION", "wagon_events_pending_idx"} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("schema missing %q:\n%s", want, ddl)
		}
	}

	mock.ExpectExec(regexp.QuoteMeta(ddl)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(seq_no), 0) FROM wagon_events")).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(41)))

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	seq, err := s.LastSeqNo(context.Background())
	if err != nil || seq != 41 {
		t.Fatalf("last seq: %d %v", seq, err)
	}
	if s.Name() != "postgres" {
		t.Fatalf("expected store name postgres, got %s", s.Name())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
