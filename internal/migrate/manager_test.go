package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (x text default 'a;b');\ncreate index a_x on a (x);\n")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (y int);")},
		"README.md":       {Data: []byte("ignored")},
	}
}

func newMock(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(db, testFS()), mock
}

func expectLedger(mock sqlmock.Sqlmock, table string, names ...string) {
	mock.ExpectExec("create table if not exists " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"name"})
	for _, n := range names {
		rows.AddRow(n)
	}
	mock.ExpectQuery("select name from " + table + " order by applied_at").WillReturnRows(rows)
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	mgr, mock := newMock(t)
	expectLedger(mock, "schema_migrations", "0001_a.up.sql")
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := mgr.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b.up.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpFailureLeavesNoLedgerRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{"0001_a.up.sql": testFS()["0001_a.up.sql"]}
	expectLedger(mock, "schema_migrations")
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index a_x").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	applied, err := NewManager(db, fsys).Up(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "0001_a.up.sql")
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpRollsBackWhenLedgerWriteFails(t *testing.T) {
	mgr, mock := newMock(t)
	expectLedger(mock, "schema_migrations", "0001_a.up.sql")
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := mgr.Up(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	mgr, mock := newMock(t)
	expectLedger(mock, "schema_migrations", "0001_a.up.sql")
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_a.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	last, err := mgr.Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0001_a.up.sql", last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithoutHistory(t *testing.T) {
	mgr, mock := newMock(t)
	expectLedger(mock, "schema_migrations")

	_, err := mgr.Down(context.Background())
	assert.ErrorIs(t, err, ErrNothingApplied)
}

func TestDownMissingTwin(t *testing.T) {
	mgr, mock := newMock(t)
	expectLedger(mock, "schema_migrations", "0001_a.up.sql", "0002_b.up.sql")

	_, err := mgr.Down(context.Background())
	assert.ErrorContains(t, err, "missing down migration for 0002_b.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedUsesItsOwnLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	seeds := fstest.MapFS{
		"01_departments.sql": {Data: []byte("insert into documents values ('x');")},
		"02_admin.sql":       {Data: []byte("insert into accounts values ('y');")},
	}
	expectLedger(mock, "schema_seeds", "01_departments.sql")
	mock.ExpectBegin()
	mock.ExpectExec("insert into accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into schema_seeds").WithArgs("02_admin.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, NewManager(db, testFS(), WithSeeds(seeds)).Seed(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRequiresSource(t *testing.T) {
	mgr, _ := newMock(t)
	assert.Error(t, mgr.Seed(context.Background()))
}

func TestEmbeddedSchema(t *testing.T) {
	files, err := collectSQL(Schema(), ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_accounts.up.sql", "0002_documents.up.sql"}, files)
	for _, f := range files {
		down := f[:len(f)-len(".up.sql")] + ".down.sql"
		_, err := Schema().Open(down)
		assert.NoError(t, err, down)
	}
}

func TestStatements(t *testing.T) {
	script := `-- accounts; first
create table a (x text default 'a;b');
create function f() returns int as $$ select 1; $$ language sql;

create index a_x on a (x) -- trailing; comment
;
`
	assert.Equal(t, []string{
		"create table a (x text default 'a;b');",
		"create function f() returns int as $$ select 1; $$ language sql;",
		"create index a_x on a (x) \n;",
	}, statements(script))
	assert.Empty(t, statements("  \n-- only a comment\n"))
}
