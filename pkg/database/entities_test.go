package database

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LD-Reborn/embeddingsearch/pkg/embedding"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticEmbedder struct {
	vector []float32
}

func (s staticEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return s.vector, nil
}

func newMockRepo(t *testing.T, embedder Embedder) (*EntityRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewEntityRepository(db, embedder, testLogger()), mock
}

func TestGetAllHydration(t *testing.T) {
	repo, mock := newMockRepo(t, staticEmbedder{})

	packed1 := embedding.Pack([]float32{1, 0})
	packed2 := embedding.Pack([]float32{0, 1})

	mock.ExpectQuery(`FROM embedding`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_datapoint", "model", "embedding"}).
			AddRow(100, 10, "m1", packed1).
			AddRow(101, 10, "m2", packed2).
			AddRow(102, 11, "m1", packed1))

	mock.ExpectQuery(`FROM datapoint`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_entity", "name", "probmethod_embedding"}).
			AddRow(10, 1, "title", "weighted_average").
			AddRow(11, 1, "text", "weighted_average").
			AddRow(12, 2, "text", "weighted_average"))

	mock.ExpectQuery(`FROM attribute`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_entity", "attribute", "value"}).
			AddRow(50, 1, "lastmodified", "1700000000").
			AddRow(51, 2, "path", "/tmp/b"))

	mock.ExpectQuery(`FROM entity`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "probmethod", "id_searchdomain"}).
			AddRow(1, "E1", "weighted_average", 7).
			AddRow(2, "E2", "weighted_average", 7))

	entities, err := repo.GetAll(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	e1 := entities[0]
	assert.Equal(t, "E1", e1.Name)
	require.Len(t, e1.Datapoints, 2)
	assert.Equal(t, "title", e1.Datapoints[0].Name)
	require.Len(t, e1.Datapoints[0].Embeddings, 2)
	assert.Equal(t, "m1", e1.Datapoints[0].Embeddings[0].Model)
	assert.Equal(t, packed1, e1.Datapoints[0].Embeddings[0].Embedding)
	require.Len(t, e1.Datapoints[1].Embeddings, 1)
	require.Len(t, e1.Attributes, 1)
	assert.Equal(t, "lastmodified", e1.Attributes[0].Name)

	e2 := entities[1]
	assert.Equal(t, "E2", e2.Name)
	require.Len(t, e2.Datapoints, 1)
	assert.Empty(t, e2.Datapoints[0].Embeddings)
	require.Len(t, e2.Attributes, 1)
	assert.Equal(t, "path", e2.Attributes[0].Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByNameNotFound(t *testing.T) {
	repo, mock := newMockRepo(t, staticEmbedder{})

	mock.ExpectQuery(`FROM embedding`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_datapoint", "model", "embedding"}))
	mock.ExpectQuery(`FROM datapoint`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_entity", "name", "probmethod_embedding"}))
	mock.ExpectQuery(`FROM attribute`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_entity", "attribute", "value"}))
	mock.ExpectQuery(`FROM entity`).WithArgs(int64(7), "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "probmethod", "id_searchdomain"}))

	_, err := repo.GetByName(context.Background(), 7, "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInsertReplacesExistingEntity(t *testing.T) {
	repo, mock := newMockRepo(t, staticEmbedder{vector: []float32{1, 0, 0}})

	// The name is taken: the previous entity is deleted before the insert.
	mock.ExpectQuery(`SELECT id FROM entity`).
		WithArgs(int64(7), "A").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(33))
	mock.ExpectExec(`DELETE FROM entity`).
		WithArgs(int64(33)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO entity`).
		WithArgs("A", "weighted_average", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(34))
	mock.ExpectQuery(`INSERT INTO attribute`).
		WithArgs(int64(34), "type", "file").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(60))
	mock.ExpectQuery(`INSERT INTO datapoint`).
		WithArgs(int64(34), "text", "weighted_average").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(70))
	mock.ExpectQuery(`INSERT INTO embedding`).
		WithArgs(int64(70), "m1", embedding.Pack([]float32{1, 0, 0})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(80))

	entity, err := repo.Insert(context.Background(), 7, NewEntity{
		Name:       "A",
		Probmethod: "weighted_average",
		Attributes: map[string]string{"type": "file"},
		Datapoints: []NewDatapoint{
			{Name: "text", Text: "hello", ProbmethodEmbedding: "weighted_average", Models: []string{"m1"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(34), entity.ID)
	require.Len(t, entity.Datapoints, 1)
	require.Len(t, entity.Datapoints[0].Embeddings, 1)
	assert.Equal(t, "m1", entity.Datapoints[0].Embeddings[0].Model)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingEntity(t *testing.T) {
	repo, mock := newMockRepo(t, staticEmbedder{})

	mock.ExpectExec(`DELETE FROM entity`).
		WithArgs(int64(7), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), 7, "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateAttributeCreatesWhenMissing(t *testing.T) {
	repo, mock := newMockRepo(t, staticEmbedder{})

	mock.ExpectExec(`UPDATE attribute`).
		WithArgs("99", int64(5), "lastmodified").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO attribute`).
		WithArgs(int64(5), "lastmodified", "99").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpdateAttribute(context.Background(), 5, "lastmodified", "99", true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
