package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LD-Reborn/embeddingsearch/pkg/database"
	"github.com/LD-Reborn/embeddingsearch/pkg/embedding"
	"github.com/LD-Reborn/embeddingsearch/pkg/probmethod"
)

// countingFakeEmbedder returns a fixed vector and counts calls, which makes
// cache hits and misses observable from outside.
type countingFakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *countingFakeEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail {
		return nil, fmt.Errorf("%w: down", embedding.ErrService)
	}
	return []float32{1, 0, 0}, nil
}

func (c *countingFakeEmbedder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestService(t *testing.T, embedder *countingFakeEmbedder) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")

	logger := discardLogger()
	manager := &database.Manager{
		DB:            db,
		Searchdomains: database.NewSearchdomainRepository(db, logger),
		Entities:      database.NewEntityRepository(db, embedder, logger),
	}
	engine := &Engine{
		Embedder: embedder,
		Registry: probmethod.NewRegistry(),
		Logger:   logger,
		Parallel: false,
	}
	return NewService(manager, engine, 0, logger), mock
}

func expectDomainLookup(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM searchdomain`).
		WithArgs("sd").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "settings"}).
			AddRow(1, "sd", database.DefaultSettings().ToJSON()))
}

func expectEntityInsert(mock sqlmock.Sqlmock, name string, entityID, dpID, emID int64) {
	mock.ExpectQuery(`SELECT id FROM entity`).
		WithArgs(int64(1), name).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`INSERT INTO entity`).
		WithArgs(name, "weighted_average", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(entityID))
	mock.ExpectQuery(`INSERT INTO datapoint`).
		WithArgs(entityID, "text", "weighted_average").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(dpID))
	mock.ExpectQuery(`INSERT INTO embedding`).
		WithArgs(dpID, "m1", embedding.Pack([]float32{1, 0, 0})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(emID))
}

// expectHydration sets up the four hydration queries for the given entity
// ids (each with one datapoint and one embedding, derived ids).
func expectHydration(mock sqlmock.Sqlmock, entityIDs ...int64) {
	packed := embedding.Pack([]float32{1, 0, 0})

	emRows := sqlmock.NewRows([]string{"id", "id_datapoint", "model", "embedding"})
	dpRows := sqlmock.NewRows([]string{"id", "id_entity", "name", "probmethod_embedding"})
	enRows := sqlmock.NewRows([]string{"id", "name", "probmethod", "id_searchdomain"})
	for _, id := range entityIDs {
		emRows.AddRow(id+20, id+10, "m1", packed)
		dpRows.AddRow(id+10, id, "text", "weighted_average")
		enRows.AddRow(id, fmt.Sprintf("E%d", id), "weighted_average", 1)
	}

	mock.ExpectQuery(`FROM embedding`).WithArgs(int64(1)).WillReturnRows(emRows)
	mock.ExpectQuery(`FROM datapoint`).WithArgs(int64(1)).WillReturnRows(dpRows)
	mock.ExpectQuery(`FROM attribute`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "id_entity", "attribute", "value"}))
	mock.ExpectQuery(`FROM entity`).WithArgs(int64(1)).WillReturnRows(enRows)
}

func newDatapoint() []database.NewDatapoint {
	return []database.NewDatapoint{
		{Name: "text", Text: "hello", ProbmethodEmbedding: "weighted_average", Models: []string{"m1"}},
	}
}

func TestQueryCachedUntilInvalidatedByInsert(t *testing.T) {
	embedder := &countingFakeEmbedder{}
	service, mock := newTestService(t, embedder)
	ctx := context.Background()

	expectDomainLookup(mock)
	expectEntityInsert(mock, "E100", 100, 110, 120)
	_, err := service.EntityInsert(ctx, "sd", database.NewEntity{
		Name: "E100", Probmethod: "weighted_average", Datapoints: newDatapoint(),
	})
	require.NoError(t, err)

	// First query hydrates and embeds the query text once.
	expectHydration(mock, 100)
	results, err := service.EntityQuery(ctx, "sd", "hello", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "E100", results[0].Name)
	callsAfterFirst := embedder.count()

	// Repeat query: answered from the search cache, no storage or
	// embedding traffic.
	results, err = service.EntityQuery(ctx, "sd", "hello", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, callsAfterFirst, embedder.count())

	// Inserting an entity invalidates both caches (entity-add flag is on
	// by default), so the same query recomputes and sees the new entity.
	expectEntityInsert(mock, "E200", 200, 210, 220)
	_, err = service.EntityInsert(ctx, "sd", database.NewEntity{
		Name: "E200", Probmethod: "weighted_average", Datapoints: newDatapoint(),
	})
	require.NoError(t, err)

	expectHydration(mock, 100, 200)
	results, err = service.EntityQuery(ctx, "sd", "hello", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Greater(t, embedder.count(), callsAfterFirst+1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryFailureWritesNoCache(t *testing.T) {
	embedder := &countingFakeEmbedder{}
	service, mock := newTestService(t, embedder)
	ctx := context.Background()

	expectDomainLookup(mock)
	expectEntityInsert(mock, "E100", 100, 110, 120)
	_, err := service.EntityInsert(ctx, "sd", database.NewEntity{
		Name: "E100", Probmethod: "weighted_average", Datapoints: newDatapoint(),
	})
	require.NoError(t, err)

	// The embedding service goes down: the query fails and caches nothing.
	embedder.fail = true
	expectHydration(mock, 100)
	_, err = service.EntityQuery(ctx, "sd", "hello", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, embedding.ErrService))
	failedCalls := embedder.count()

	// Once the service recovers the same query computes fresh results;
	// a cache hit would have skipped the embedder entirely.
	embedder.fail = false
	results, err := service.EntityQuery(ctx, "sd", "hello", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, embedder.count(), failedCalls)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryLimitTruncates(t *testing.T) {
	embedder := &countingFakeEmbedder{}
	service, mock := newTestService(t, embedder)
	ctx := context.Background()

	expectDomainLookup(mock)
	expectHydration(mock, 100, 200, 300)
	results, err := service.EntityQuery(ctx, "sd", "hello", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// The cache stores the full list: asking again without a limit
	// returns all three without recomputing.
	calls := embedder.count()
	results, err = service.EntityQuery(ctx, "sd", "hello", 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, calls, embedder.count())
}

func TestEntityInsertUnknownProbmethod(t *testing.T) {
	embedder := &countingFakeEmbedder{}
	service, mock := newTestService(t, embedder)
	ctx := context.Background()

	expectDomainLookup(mock)
	_, err := service.EntityInsert(ctx, "sd", database.NewEntity{
		Name: "E1", Probmethod: "nonsense", Datapoints: newDatapoint(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, probmethod.ErrUnknown))
	// Nothing may reach storage for a rejected insert.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSettingRejectsWrongType(t *testing.T) {
	embedder := &countingFakeEmbedder{}
	service, mock := newTestService(t, embedder)
	ctx := context.Background()

	expectDomainLookup(mock)
	err := service.SearchdomainUpdateSetting(ctx, "sd", "cache_maxentries", "many")
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrBadSettings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchdomainGetMissing(t *testing.T) {
	embedder := &countingFakeEmbedder{}
	service, mock := newTestService(t, embedder)

	mock.ExpectQuery(`FROM searchdomain`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "settings"}))

	_, err := service.SearchdomainGet(context.Background(), "ghost", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrNotFound))
}
