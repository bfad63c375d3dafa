package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/venue-trace/internal/errs"
	"github.com/and161185/venue-trace/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestKVRepo_RestoreStoreKeys(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewKVRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT v FROM key_material WHERE k=\$1`).
		WithArgs("identity").
		WillReturnError(pgx.ErrNoRows)
	_, err := r.Restore(ctx, "identity")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectExec(`INSERT INTO key_material \(k, v, updated_at\) VALUES \(\$1, \$2, now\(\)\) ON CONFLICT \(k\) DO UPDATE`).
		WithArgs("identity", []byte("sealed")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Store(ctx, "identity", []byte("sealed")))

	mock.ExpectQuery(`SELECT v FROM key_material WHERE k=\$1`).
		WithArgs("identity").
		WillReturnRows(pgxmock.NewRows([]string{"v"}).AddRow([]byte("sealed")))
	v, err := r.Restore(ctx, "identity")
	require.NoError(t, err)
	require.Equal(t, []byte("sealed"), v)

	mock.ExpectQuery(`SELECT k FROM key_material WHERE starts_with\(k, \$1\) ORDER BY k ASC`).
		WithArgs("ephemeral/").
		WillReturnRows(pgxmock.NewRows([]string{"k"}).AddRow("ephemeral/1").AddRow("ephemeral/2"))
	keys, err := r.Keys(ctx, "ephemeral/")
	require.NoError(t, err)
	require.Equal(t, []string{"ephemeral/1", "ephemeral/2"}, keys)

	mock.ExpectExec(`DELETE FROM key_material WHERE k=\$1`).
		WithArgs("identity").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Remove(ctx, "identity"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKVRepo_Restore_PropagatesDBError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewKVRepo(db)

	boom := errors.New("db down")
	mock.ExpectQuery(`SELECT v FROM key_material`).WithArgs("x").WillReturnError(boom)
	_, err := r.Restore(context.Background(), "x")
	require.ErrorIs(t, err, boom)
}

func TestTraceInfoRepo_UpsertGetList(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTraceInfoRepo(db)
	ctx := context.Background()

	loc := uuid.Must(uuid.NewV4())
	in := time.Unix(1_700_000_000, 0).UTC()
	out := in.Add(time.Hour)
	info := model.TraceInfo{TraceID: "q83vEjRWeJA=", CheckIn: in, CheckOut: &out, LocationID: loc}

	mock.ExpectExec(`INSERT INTO trace_infos \(trace_id, checkin, checkout, location_id, created_at\)`).
		WithArgs(info.TraceID, in, &out, loc, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Upsert(ctx, info))

	cols := []string{"trace_id", "checkin", "checkout", "location_id", "created_at"}
	mock.ExpectQuery(`SELECT trace_id, checkin, checkout, location_id, created_at FROM trace_infos WHERE trace_id=\$1`).
		WithArgs(info.TraceID).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(info.TraceID, in, &out, loc, (*time.Time)(nil)))
	got, err := r.Get(ctx, info.TraceID)
	require.NoError(t, err)
	require.Equal(t, loc, got.LocationID)
	require.False(t, got.IsCheckedIn())

	mock.ExpectQuery(`SELECT trace_id, checkin, checkout, location_id, created_at FROM trace_infos WHERE trace_id=\$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`FROM trace_infos ORDER BY checkin ASC`).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("a", in, (*time.Time)(nil), loc, (*time.Time)(nil)).
			AddRow("b", in.Add(time.Minute), &out, loc, (*time.Time)(nil)))
	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.True(t, list[0].IsCheckedIn())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTraceInfoRepo_DeleteCheckedInBefore(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTraceInfoRepo(db)

	cut := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectExec(`DELETE FROM trace_infos WHERE checkin < \$1`).
		WithArgs(cut).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := r.DeleteCheckedInBefore(context.Background(), cut)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestTraceCoreRepo_AddListClear(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewTraceCoreRepo(db)
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectExec(`INSERT INTO trace_cores \(ts, daily_key_id, created_at\) VALUES \(\$1, \$2, \$3\) ON CONFLICT \(ts, daily_key_id\) DO NOTHING`).
		WithArgs(int64(1_699_999_980), 7, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Add(ctx, model.TraceIDCore{Timestamp: 1_699_999_980, DailyKeyID: 7, CreatedAt: at}))

	mock.ExpectQuery(`SELECT ts, daily_key_id, created_at FROM trace_cores ORDER BY created_at ASC`).
		WillReturnRows(pgxmock.NewRows([]string{"ts", "daily_key_id", "created_at"}).AddRow(int64(1_699_999_980), 7, at))
	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Equal(t, model.CoreKey{Timestamp: 1_699_999_980, DailyKeyID: 7}, list[0].Key())

	mock.ExpectExec(`DELETE FROM trace_cores WHERE created_at < \$1`).
		WithArgs(at).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	n, err := r.DeleteCreatedBefore(ctx, at)
	require.NoError(t, err)
	require.Zero(t, n)

	mock.ExpectExec(`DELETE FROM trace_cores`).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Clear(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyKeyRepo_SaveListDelete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDailyKeyRepo(db)
	ctx := context.Background()

	issuer := uuid.Must(uuid.NewV4())
	at := time.Unix(1_700_000_000, 0).UTC()
	k := model.DailyKey{KeyID: 3, CreatedAt: at, IssuerID: issuer, PublicKey: []byte{4, 1}, Signature: []byte{9}}

	mock.ExpectExec(`INSERT INTO daily_keys`).
		WithArgs(3, at, issuer, []byte{4, 1}, []byte{9}, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Save(ctx, k))

	mock.ExpectQuery(`FROM daily_keys ORDER BY created_at DESC`).
		WillReturnRows(pgxmock.NewRows([]string{"key_id", "created_at", "issuer_id", "public_key", "signature", "signed_token"}).
			AddRow(4, at.Add(time.Hour), issuer, []byte{4, 2}, []byte{8}, "").
			AddRow(3, at, issuer, []byte{4, 1}, []byte{9}, ""))
	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, list[0].KeyID)

	mock.ExpectExec(`DELETE FROM daily_keys WHERE key_id=\$1 AND created_at=\$2`).
		WithArgs(3, at).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, 3, at))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessedRepo_UpsertList(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccessedRepo(db)
	ctx := context.Background()

	hd := uuid.Must(uuid.NewV4())
	seen := time.Unix(1_700_000_000, 0).UTC()
	a := model.AccessedTraceID{HealthDepartmentID: hd, TraceIDs: []string{"a", "b"}, SightDate: seen}

	mock.ExpectExec(`INSERT INTO accessed_trace_ids`).
		WithArgs(hd, []string{"a", "b"}, seen, (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Upsert(ctx, a))

	mock.ExpectQuery(`FROM accessed_trace_ids ORDER BY sight_date ASC`).
		WillReturnRows(pgxmock.NewRows([]string{"health_department_id", "trace_ids", "sight_date", "notified_date", "consumed_date"}).
			AddRow(hd, []string{"a", "b"}, seen, (*time.Time)(nil), (*time.Time)(nil)))
	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, []string{"a", "b"}, list[0].TraceIDs)

	mock.ExpectExec(`DELETE FROM accessed_trace_ids WHERE health_department_id=\$1`).
		WithArgs(hd).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, hd))

	require.NoError(t, mock.ExpectationsWereMet())
}
