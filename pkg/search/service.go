package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/LD-Reborn/embeddingsearch/pkg/cache"
	"github.com/LD-Reborn/embeddingsearch/pkg/database"
	"github.com/LD-Reborn/embeddingsearch/pkg/probmethod"
)

// Service is the public facade over storage, caches and the engine. It owns
// the per-searchdomain runtime state; the database handle stays on the
// coordinator side and search workers never see it.
type Service struct {
	db           *database.Manager
	engine       *Engine
	registry     *probmethod.Registry
	logger       *slog.Logger
	queryTimeout time.Duration

	mu      sync.Mutex
	domains map[string]*domainState
}

// domainState is the in-memory side of one searchdomain: the hydrated
// entity snapshot and the bounded result cache. Queries serialise on mu per
// searchdomain.
type domainState struct {
	mu       sync.Mutex
	domain   *database.Searchdomain
	entities *cache.EntityCache
	results  *cache.SearchCache
}

// NewService creates the facade. queryTimeout bounds the engine scan of each
// query; the cache lookup and entity-cache refill before it are not covered.
// 0 disables the bound.
func NewService(db *database.Manager, engine *Engine, queryTimeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		db:           db,
		engine:       engine,
		registry:     engine.Registry,
		logger:       logger,
		queryTimeout: queryTimeout,
		domains:      make(map[string]*domainState),
	}
}

// state returns the runtime state for a searchdomain, loading the row from
// storage on first touch and creating the row when createIfMissing is set.
func (s *Service) state(ctx context.Context, name string, createIfMissing bool) (*domainState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.domains[name]; ok {
		return ds, nil
	}
	domain, err := s.db.Searchdomains.Get(ctx, name)
	if err != nil {
		if !createIfMissing || !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		domain, err = s.db.Searchdomains.Create(ctx, name, database.DefaultSettings())
		if err != nil {
			return nil, err
		}
	}
	ds := &domainState{
		domain:   domain,
		entities: cache.NewEntityCache(),
		results:  cache.NewSearchCache(domain.Settings.CacheMaxEntries),
	}
	s.domains[name] = ds
	return ds, nil
}

// invalidate applies the coarse cache policy for one mutation kind: when
// the searchdomain's flag for that kind is set, the entity snapshot is
// marked stale and the result cache is emptied.
func (s *Service) invalidate(ds *domainState, flag bool) {
	if !flag {
		return
	}
	ds.entities.Invalidate()
	ds.results.Clear()
}

// SearchdomainCreate creates a searchdomain with the given settings.
func (s *Service) SearchdomainCreate(ctx context.Context, name string, settings database.Settings) (*database.Searchdomain, error) {
	domain, err := s.db.Searchdomains.Create(ctx, name, settings)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.domains[name] = &domainState{
		domain:   domain,
		entities: cache.NewEntityCache(),
		results:  cache.NewSearchCache(settings.CacheMaxEntries),
	}
	s.mu.Unlock()
	return domain, nil
}

// SearchdomainGet returns a searchdomain, creating it with default settings
// when createIfMissing is set.
func (s *Service) SearchdomainGet(ctx context.Context, name string, createIfMissing bool) (*database.Searchdomain, error) {
	ds, err := s.state(ctx, name, createIfMissing)
	if err != nil {
		return nil, err
	}
	return ds.domain, nil
}

// SearchdomainList returns every searchdomain.
func (s *Service) SearchdomainList(ctx context.Context) ([]*database.Searchdomain, error) {
	return s.db.Searchdomains.GetAll(ctx)
}

// SearchdomainDelete removes a searchdomain and its entities. Returns how
// many entities were deleted with it.
func (s *Service) SearchdomainDelete(ctx context.Context, name string) (int64, error) {
	ds, err := s.state(ctx, name, false)
	if err != nil {
		return 0, err
	}
	deleted, err := s.db.Searchdomains.Delete(ctx, ds.domain.ID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	delete(s.domains, name)
	s.mu.Unlock()
	return deleted, nil
}

// SearchdomainUpdateName renames a searchdomain.
func (s *Service) SearchdomainUpdateName(ctx context.Context, name, newName string) error {
	ds, err := s.state(ctx, name, false)
	if err != nil {
		return err
	}
	if err := s.db.Searchdomains.UpdateName(ctx, ds.domain.ID, newName); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.domains, name)
	ds.domain.Name = newName
	s.domains[newName] = ds
	s.mu.Unlock()
	return nil
}

// SearchdomainUpdateSetting sets one settings key. The value is validated
// before anything is persisted; a wrong-typed value is rejected with
// database.ErrBadSettings and the stored record is left untouched.
func (s *Service) SearchdomainUpdateSetting(ctx context.Context, name, key string, value any) error {
	ds, err := s.state(ctx, name, false)
	if err != nil {
		return err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	updated := ds.domain.Settings
	if err := updated.Apply(key, value); err != nil {
		return err
	}
	if err := s.db.Searchdomains.UpdateSettings(ctx, ds.domain.ID, updated); err != nil {
		return err
	}
	ds.domain.Settings = updated
	if key == "cache_maxentries" {
		ds.results.SetMaxEntries(updated.CacheMaxEntries)
	}
	return nil
}

// EntityInsert upserts an entity with its attributes and datapoints. The
// probmethod names are validated against the registry before any row is
// written, so an unknown method fails the insert up front.
func (s *Service) EntityInsert(ctx context.Context, domainName string, in database.NewEntity) (*database.Entity, error) {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return nil, err
	}
	if err := s.checkProbmethod(in.Probmethod); err != nil {
		return nil, err
	}
	for _, dp := range in.Datapoints {
		if err := s.checkProbmethod(dp.ProbmethodEmbedding); err != nil {
			return nil, err
		}
	}
	entity, err := s.db.Entities.Insert(ctx, ds.domain.ID, in)
	if err != nil {
		return nil, err
	}
	s.invalidate(ds, ds.domain.Settings.CacheRevalidationEntityAdd)
	return entity, nil
}

// EntityDelete removes the named entity and everything it owns.
func (s *Service) EntityDelete(ctx context.Context, domainName, name string) error {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return err
	}
	if err := s.db.Entities.Delete(ctx, ds.domain.ID, name); err != nil {
		return err
	}
	s.invalidate(ds, ds.domain.Settings.CacheRevalidationEntityRemove)
	return nil
}

// EntityList returns the hydrated entities of a searchdomain, served from
// the entity cache and refilled from storage when the snapshot is stale.
func (s *Service) EntityList(ctx context.Context, domainName string) ([]*database.Entity, error) {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return s.entitySnapshot(ctx, ds)
}

// EntityGetByName returns one hydrated entity, answered from the entity
// cache when it is valid.
func (s *Service) EntityGetByName(ctx context.Context, domainName, name string) (*database.Entity, error) {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	entities, err := s.entitySnapshot(ctx, ds)
	if err != nil {
		return nil, err
	}
	for _, entity := range entities {
		if entity.Name == name {
			return entity, nil
		}
	}
	return nil, fmt.Errorf("%w: entity %q", database.ErrNotFound, name)
}

// entitySnapshot answers from the cache, refilling it from storage first
// when invalid. Caller holds ds.mu.
func (s *Service) entitySnapshot(ctx context.Context, ds *domainState) ([]*database.Entity, error) {
	if entities, ok := ds.entities.Snapshot(); ok {
		return entities, nil
	}
	entities, err := s.db.Entities.GetAll(ctx, ds.domain.ID)
	if err != nil {
		return nil, err
	}
	ds.entities.Replace(entities)
	s.logger.Debug("entity cache refilled",
		"searchdomain", ds.domain.Name, "entities", len(entities))
	return entities, nil
}

// EntityQuery runs a search. The result cache answers repeat queries; on a
// miss the engine scans the entity snapshot and the full ranked list is
// cached before the (optionally truncated) answer is returned. A failed or
// cancelled query writes nothing to the cache.
func (s *Service) EntityQuery(ctx context.Context, domainName, text string, limit int) ([]cache.Result, error) {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if results, ok := ds.results.Get(text); ok {
		return truncate(results, limit), nil
	}

	entities, err := s.entitySnapshot(ctx, ds)
	if err != nil {
		return nil, err
	}

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	started := time.Now()
	results, err := s.engine.Search(ctx, text, entities)
	if err != nil {
		return nil, err
	}
	s.logger.Info("query executed",
		"searchdomain", domainName,
		"entities", len(entities),
		"duration", time.Since(started))

	ds.results.Put(text, results)
	return truncate(results, limit), nil
}

// Datapoint-level mutations. Each consults the owning searchdomain's
// revalidation flag for its mutation kind.

// EntityInsertDatapoint adds a datapoint to an existing entity.
func (s *Service) EntityInsertDatapoint(ctx context.Context, domainName, entityName string, in database.NewDatapoint) (*database.Datapoint, error) {
	ds, entity, err := s.resolveEntity(ctx, domainName, entityName)
	if err != nil {
		return nil, err
	}
	if err := s.checkProbmethod(in.ProbmethodEmbedding); err != nil {
		return nil, err
	}
	dp, err := s.db.Entities.InsertDatapoint(ctx, entity.ID, in)
	if err != nil {
		return nil, err
	}
	s.invalidate(ds, ds.domain.Settings.CacheRevalidationDatapointCreate)
	return dp, nil
}

// EntityUpdateDatapointEmbeddings re-embeds a datapoint's text.
func (s *Service) EntityUpdateDatapointEmbeddings(ctx context.Context, domainName string, datapointID int64, text string, models []string, clear bool) error {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return err
	}
	if _, err := s.db.Entities.UpdateDatapointEmbeddings(ctx, datapointID, text, models, clear); err != nil {
		return err
	}
	s.invalidate(ds, ds.domain.Settings.CacheRevalidationEmbeddingUpdate)
	return nil
}

// EntityDeleteDatapoint removes a datapoint and its embeddings.
func (s *Service) EntityDeleteDatapoint(ctx context.Context, domainName string, datapointID int64) error {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return err
	}
	if err := s.db.Entities.DeleteDatapoint(ctx, datapointID); err != nil {
		return err
	}
	s.invalidate(ds, ds.domain.Settings.CacheRevalidationDatapointRemove)
	return nil
}

// EntityUpdateDatapointName renames a datapoint.
func (s *Service) EntityUpdateDatapointName(ctx context.Context, domainName string, datapointID int64, newName string) error {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return err
	}
	if err := s.db.Entities.UpdateDatapointName(ctx, datapointID, newName); err != nil {
		return err
	}
	s.invalidate(ds, ds.domain.Settings.CacheRevalidationDatapointUpdate)
	return nil
}

// EntityUpdateDatapointProbmethod changes a datapoint's reduction method.
func (s *Service) EntityUpdateDatapointProbmethod(ctx context.Context, domainName string, datapointID int64, method string) error {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return err
	}
	if err := s.checkProbmethod(method); err != nil {
		return err
	}
	if err := s.db.Entities.UpdateDatapointProbmethod(ctx, datapointID, method); err != nil {
		return err
	}
	s.invalidate(ds, ds.domain.Settings.CacheRevalidationDatapointUpdate)
	return nil
}

// EntityUpdateAttribute sets an attribute. Attributes are not searched, so
// only the entity snapshot (which carries them) is refreshed; the result
// cache survives.
func (s *Service) EntityUpdateAttribute(ctx context.Context, domainName, entityName, attribute, value string, createIfMissing bool) error {
	ds, entity, err := s.resolveEntity(ctx, domainName, entityName)
	if err != nil {
		return err
	}
	if err := s.db.Entities.UpdateAttribute(ctx, entity.ID, attribute, value, createIfMissing); err != nil {
		return err
	}
	ds.entities.Invalidate()
	return nil
}

// EntityDeleteAttribute removes an attribute.
func (s *Service) EntityDeleteAttribute(ctx context.Context, domainName, entityName, attribute string) error {
	ds, entity, err := s.resolveEntity(ctx, domainName, entityName)
	if err != nil {
		return err
	}
	if err := s.db.Entities.DeleteAttribute(ctx, entity.ID, attribute); err != nil {
		return err
	}
	ds.entities.Invalidate()
	return nil
}

func (s *Service) resolveEntity(ctx context.Context, domainName, entityName string) (*domainState, *database.Entity, error) {
	ds, err := s.state(ctx, domainName, false)
	if err != nil {
		return nil, nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	entities, err := s.entitySnapshot(ctx, ds)
	if err != nil {
		return nil, nil, err
	}
	for _, entity := range entities {
		if entity.Name == entityName {
			return ds, entity, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: entity %q", database.ErrNotFound, entityName)
}

// checkProbmethod rejects unregistered method names before rows are
// written, using the same base-name dispatch as the engine.
func (s *Service) checkProbmethod(name string) error {
	base, _, _ := strings.Cut(name, ":")
	if !s.registry.Has(base) {
		return fmt.Errorf("%w: %q", probmethod.ErrUnknown, base)
	}
	return nil
}

func truncate(results []cache.Result, limit int) []cache.Result {
	if limit > 0 && limit < len(results) {
		return results[:limit]
	}
	return results
}
