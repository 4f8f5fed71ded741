package sqldoc

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature-dev/armature/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, Postgres), mock
}

func TestPostgresGetQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT doc FROM armature_records WHERE collection = \$1 AND id = \$2`).
		WithArgs("products", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(`{"id":"p1","name":"Dune"}`))

	rec, err := s.Get(context.Background(), "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", rec["name"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO armature_records \(collection, id, doc\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("products", "p1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Insert(context.Background(), "products", store.Record{"id": "p1", "name": "Dune"})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateLocksRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT doc FROM armature_records WHERE collection = \$1 AND id = \$2 FOR UPDATE`).
		WithArgs("products", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(`{"id":"p1","name":"Dune","price":5}`))
	mock.ExpectExec(`UPDATE armature_records SET doc = \$1 WHERE collection = \$2 AND id = \$3`).
		WithArgs(sqlmock.AnyArg(), "products", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.Update(context.Background(), "products", "p1", store.Record{"price": 8.0})
	require.NoError(t, err)
	assert.Equal(t, 8.0, rec["price"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM armature_records WHERE collection = \$1 AND id = \$2`).
		WithArgs("products", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), "products", "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
