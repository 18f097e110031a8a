package orm

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const potatoTable = `CREATE TABLE potatoes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thickness REAL NOT NULL,
	mass REAL NOT NULL,
	color TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL
)`

var potatoes = crud.Model{Table: "potatoes", PrimaryKey: "id"}

// testDB opens a private in-memory SQLite database holding the potatoes table.
func testDB(t *testing.T, logger *zap.Logger) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := Open(context.Background(), DriverSQLite, dsn, Options{Logger: logger, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, db.Exec(potatoTable).Error)
	return db
}

func count(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Table("potatoes").Count(&n).Error)
	return n
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", Options{})
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestSessionAddCommit(t *testing.T) {
	db := testDB(t, nil)
	ctx := context.Background()

	s := NewSession(db)
	rec := crud.Record{"thickness": 0.24, "mass": 1.2, "color": "red", "type": "russet"}
	require.NoError(t, s.Add(ctx, potatoes, rec))
	assert.EqualValues(t, 1, rec["id"])
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close(ctx))

	assert.EqualValues(t, 1, count(t, db))
}

func TestSessionCloseRollsBack(t *testing.T) {
	db := testDB(t, nil)
	ctx := context.Background()

	s := NewSession(db)
	require.NoError(t, s.Add(ctx, potatoes, crud.Record{"thickness": 1.0, "mass": 1.0, "color": "ghost", "type": "x"}))
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	assert.Zero(t, count(t, db))

	_, err := s.Execute(ctx, crud.Statement{Op: crud.OpSelect, Model: potatoes})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionUniqueViolation(t *testing.T) {
	db := testDB(t, nil)
	ctx := context.Background()

	s := NewSession(db)
	defer s.Close(ctx)

	require.NoError(t, s.Add(ctx, potatoes, crud.Record{"thickness": 1.0, "mass": 1.0, "color": "red", "type": "a"}))
	require.NoError(t, s.Commit(ctx))

	err := s.Add(ctx, potatoes, crud.Record{"thickness": 2.0, "mass": 2.0, "color": "red", "type": "b"})
	assert.ErrorIs(t, err, crud.ErrUniqueViolation)
	require.NoError(t, s.Rollback(ctx))
	require.NoError(t, s.Rollback(ctx))
}

func TestSessionExecute(t *testing.T) {
	db := testDB(t, nil)
	ctx := context.Background()

	s := NewSession(db)
	for i, color := range []string{"red", "gold", "purple", "white"} {
		require.NoError(t, s.Add(ctx, potatoes, crud.Record{"thickness": float64(i), "mass": 1.0, "color": color, "type": "t"}))
	}
	require.NoError(t, s.Commit(ctx))

	two := 2
	rows, err := s.Execute(ctx, crud.Statement{Op: crud.OpSelect, Model: potatoes, OrderBy: "id", Offset: 1, Limit: &two})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "gold", rows[0]["color"])
	assert.Equal(t, "purple", rows[1]["color"])

	_, err = s.Execute(ctx, crud.Statement{
		Op:    crud.OpUpdate,
		Model: potatoes,
		Where: crud.Record{"id": int64(1)},
		Set:   crud.Record{"color": "blue"},
	})
	require.NoError(t, err)
	rec := crud.Record{"id": int64(1)}
	require.NoError(t, s.Refresh(ctx, potatoes, rec))
	assert.Equal(t, "blue", rec["color"])
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.Delete(ctx, potatoes, crud.Record{"id": int64(2)}))
	assert.ErrorIs(t, s.Delete(ctx, potatoes, crud.Record{"id": int64(2)}), crud.ErrNoRows)
	require.NoError(t, s.Commit(ctx))

	_, err = s.Execute(ctx, crud.Statement{Op: crud.OpDeleteAll, Model: potatoes})
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close(ctx))

	assert.Zero(t, count(t, db))
}

func TestSessionRefreshMissing(t *testing.T) {
	db := testDB(t, nil)
	s := NewSession(db)
	defer s.Close(context.Background())

	err := s.Refresh(context.Background(), potatoes, crud.Record{"id": int64(42)})
	assert.ErrorIs(t, err, crud.ErrNoRows)
}

func TestLoggerReportsFailedStatements(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	db := testDB(t, zap.New(core))

	err := db.Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("query failed").Len())
}
