package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/LD-Reborn/embeddingsearch/pkg/embedding"
)

// Embedder produces the packed vectors stored alongside datapoints. It is
// satisfied by *embedding.Client.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// EntityRepository handles entity rows and their attribute, datapoint and
// embedding children.
type EntityRepository struct {
	db       *sqlx.DB
	embedder Embedder
	logger   *slog.Logger
}

// NewEntityRepository creates an entity repository.
func NewEntityRepository(db *sqlx.DB, embedder Embedder, logger *slog.Logger) *EntityRepository {
	return &EntityRepository{db: db, embedder: embedder, logger: logger}
}

// GetAll hydrates every entity of a searchdomain.
func (r *EntityRepository) GetAll(ctx context.Context, searchdomainID int64) ([]*Entity, error) {
	return r.getConditional(ctx, searchdomainID, nil)
}

// GetByName hydrates the named entity of a searchdomain, or returns
// ErrNotFound.
func (r *EntityRepository) GetByName(ctx context.Context, searchdomainID int64, name string) (*Entity, error) {
	entities, err := r.getConditional(ctx, searchdomainID, &name)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: entity %q", ErrNotFound, name)
	}
	return entities[0], nil
}

// getConditional materializes complete entity graphs in exactly four
// round-trips: all embeddings, all datapoints and all attributes of the
// searchdomain, plus the entities matching the optional name predicate.
// Children are bucketed by foreign key and attached in two passes; the
// bucket maps are dropped once drained.
func (r *EntityRepository) getConditional(ctx context.Context, searchdomainID int64, name *string) ([]*Entity, error) {
	var embeddings []Embedding
	err := r.db.SelectContext(ctx, &embeddings, `
		SELECT em.id, em.id_datapoint, em.model, em.embedding
		FROM embedding em
		JOIN datapoint dp ON dp.id = em.id_datapoint
		JOIN entity en ON en.id = dp.id_entity
		WHERE en.id_searchdomain = $1
		ORDER BY em.id`, searchdomainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}

	var datapoints []Datapoint
	err = r.db.SelectContext(ctx, &datapoints, `
		SELECT dp.id, dp.id_entity, dp.name, dp.probmethod_embedding
		FROM datapoint dp
		JOIN entity en ON en.id = dp.id_entity
		WHERE en.id_searchdomain = $1
		ORDER BY dp.id`, searchdomainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load datapoints: %w", err)
	}

	var attributes []Attribute
	err = r.db.SelectContext(ctx, &attributes, `
		SELECT at.id, at.id_entity, at.attribute, at.value
		FROM attribute at
		JOIN entity en ON en.id = at.id_entity
		WHERE en.id_searchdomain = $1
		ORDER BY at.id`, searchdomainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attributes: %w", err)
	}

	var entities []*Entity
	if name != nil {
		err = r.db.SelectContext(ctx, &entities, `
			SELECT id, name, probmethod, id_searchdomain
			FROM entity
			WHERE id_searchdomain = $1 AND name = $2
			ORDER BY id`, searchdomainID, *name)
	} else {
		err = r.db.SelectContext(ctx, &entities, `
			SELECT id, name, probmethod, id_searchdomain
			FROM entity
			WHERE id_searchdomain = $1
			ORDER BY id`, searchdomainID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	embeddingsByDatapoint := make(map[int64][]Embedding, len(datapoints))
	for _, em := range embeddings {
		embeddingsByDatapoint[em.DatapointID] = append(embeddingsByDatapoint[em.DatapointID], em)
	}

	datapointsByEntity := make(map[int64][]Datapoint, len(entities))
	for _, dp := range datapoints {
		dp.Embeddings = embeddingsByDatapoint[dp.ID]
		delete(embeddingsByDatapoint, dp.ID)
		datapointsByEntity[dp.EntityID] = append(datapointsByEntity[dp.EntityID], dp)
	}

	attributesByEntity := make(map[int64][]Attribute, len(entities))
	for _, at := range attributes {
		attributesByEntity[at.EntityID] = append(attributesByEntity[at.EntityID], at)
	}

	for _, en := range entities {
		en.Attributes = attributesByEntity[en.ID]
		en.Datapoints = datapointsByEntity[en.ID]
		delete(attributesByEntity, en.ID)
		delete(datapointsByEntity, en.ID)
	}
	return entities, nil
}

// Insert creates an entity with its attributes and datapoints, embedding
// every datapoint text under each of its models. An existing entity with
// the same name is deleted first, which keeps entity names unique per
// searchdomain.
func (r *EntityRepository) Insert(ctx context.Context, searchdomainID int64, in NewEntity) (*Entity, error) {
	var existingID int64
	err := r.db.GetContext(ctx, &existingID,
		`SELECT id FROM entity WHERE id_searchdomain = $1 AND name = $2`,
		searchdomainID, in.Name)
	switch {
	case err == nil:
		if _, err := r.db.ExecContext(ctx, `DELETE FROM entity WHERE id = $1`, existingID); err != nil {
			return nil, fmt.Errorf("failed to replace entity %q: %w", in.Name, err)
		}
		r.logger.Debug("replaced existing entity", "name", in.Name, "id", existingID)
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to check for existing entity: %w", err)
	}

	entity := &Entity{
		Name:           in.Name,
		Probmethod:     in.Probmethod,
		SearchdomainID: searchdomainID,
	}
	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO entity (name, probmethod, id_searchdomain) VALUES ($1, $2, $3) RETURNING id`,
		in.Name, in.Probmethod, searchdomainID).Scan(&entity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert entity: %w", err)
	}

	for attr, value := range in.Attributes {
		var id int64
		err = r.db.QueryRowxContext(ctx,
			`INSERT INTO attribute (id_entity, attribute, value) VALUES ($1, $2, $3) RETURNING id`,
			entity.ID, attr, value).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert attribute %q: %w", attr, err)
		}
		entity.Attributes = append(entity.Attributes, Attribute{
			ID: id, EntityID: entity.ID, Name: attr, Value: value,
		})
	}

	for _, dp := range in.Datapoints {
		inserted, err := r.InsertDatapoint(ctx, entity.ID, dp)
		if err != nil {
			return nil, err
		}
		entity.Datapoints = append(entity.Datapoints, *inserted)
	}
	return entity, nil
}

// InsertDatapoint adds a datapoint to an entity and generates its
// embeddings.
func (r *EntityRepository) InsertDatapoint(ctx context.Context, entityID int64, in NewDatapoint) (*Datapoint, error) {
	dp := &Datapoint{
		EntityID:            entityID,
		Name:                in.Name,
		ProbmethodEmbedding: in.ProbmethodEmbedding,
	}
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO datapoint (id_entity, name, probmethod_embedding) VALUES ($1, $2, $3) RETURNING id`,
		entityID, in.Name, in.ProbmethodEmbedding).Scan(&dp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert datapoint %q: %w", in.Name, err)
	}
	if err := r.generateEmbeddings(ctx, dp, in.Text, in.Models); err != nil {
		return nil, err
	}
	return dp, nil
}

// UpdateDatapointEmbeddings re-embeds a datapoint's text, optionally
// clearing the previous embeddings first.
func (r *EntityRepository) UpdateDatapointEmbeddings(ctx context.Context, datapointID int64, text string, models []string, clear bool) (*Datapoint, error) {
	var dp Datapoint
	err := r.db.GetContext(ctx, &dp,
		`SELECT id, id_entity, name, probmethod_embedding FROM datapoint WHERE id = $1`, datapointID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: datapoint %d", ErrNotFound, datapointID)
		}
		return nil, fmt.Errorf("failed to get datapoint: %w", err)
	}
	if clear {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM embedding WHERE id_datapoint = $1`, datapointID); err != nil {
			return nil, fmt.Errorf("failed to clear embeddings: %w", err)
		}
	}
	if err := r.generateEmbeddings(ctx, &dp, text, models); err != nil {
		return nil, err
	}
	return &dp, nil
}

// generateEmbeddings embeds text under each model and stores the packed
// vectors on the datapoint. The embedding service is called on the
// coordinator; a failure aborts the mutation.
func (r *EntityRepository) generateEmbeddings(ctx context.Context, dp *Datapoint, text string, models []string) error {
	for _, model := range models {
		vector, err := r.embedder.Embed(ctx, model, text)
		if err != nil {
			return fmt.Errorf("failed to embed datapoint %q with %q: %w", dp.Name, model, err)
		}
		packed := embedding.Pack(vector)
		em := Embedding{DatapointID: dp.ID, Model: model, Embedding: packed}
		err = r.db.QueryRowxContext(ctx,
			`INSERT INTO embedding (id_datapoint, model, embedding) VALUES ($1, $2, $3) RETURNING id`,
			dp.ID, model, packed).Scan(&em.ID)
		if err != nil {
			return fmt.Errorf("failed to insert embedding (%q, %q): %w", dp.Name, model, err)
		}
		dp.Embeddings = append(dp.Embeddings, em)
	}
	return nil
}

// Delete removes the named entity; attributes, datapoints and embeddings
// cascade.
func (r *EntityRepository) Delete(ctx context.Context, searchdomainID int64, name string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM entity WHERE id_searchdomain = $1 AND name = $2`, searchdomainID, name)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: entity %q", ErrNotFound, name)
	}
	return nil
}

// UpdateAttribute sets an attribute value, creating the attribute when
// createIfMissing is set.
func (r *EntityRepository) UpdateAttribute(ctx context.Context, entityID int64, name, value string, createIfMissing bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attribute SET value = $1 WHERE id_entity = $2 AND attribute = $3`,
		value, entityID, name)
	if err != nil {
		return fmt.Errorf("failed to update attribute %q: %w", name, err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}
	if !createIfMissing {
		return fmt.Errorf("%w: attribute %q", ErrNotFound, name)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO attribute (id_entity, attribute, value) VALUES ($1, $2, $3)`,
		entityID, name, value)
	if err != nil {
		return fmt.Errorf("failed to insert attribute %q: %w", name, err)
	}
	return nil
}

// DeleteAttribute removes one named attribute from an entity.
func (r *EntityRepository) DeleteAttribute(ctx context.Context, entityID int64, name string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM attribute WHERE id_entity = $1 AND attribute = $2`, entityID, name)
	if err != nil {
		return fmt.Errorf("failed to delete attribute %q: %w", name, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: attribute %q", ErrNotFound, name)
	}
	return nil
}

// DeleteDatapoint removes a datapoint; its embeddings cascade.
func (r *EntityRepository) DeleteDatapoint(ctx context.Context, datapointID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM datapoint WHERE id = $1`, datapointID)
	if err != nil {
		return fmt.Errorf("failed to delete datapoint: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: datapoint %d", ErrNotFound, datapointID)
	}
	return nil
}

// UpdateDatapointName renames a datapoint.
func (r *EntityRepository) UpdateDatapointName(ctx context.Context, datapointID int64, newName string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE datapoint SET name = $1 WHERE id = $2`, newName, datapointID)
	if err != nil {
		return fmt.Errorf("failed to rename datapoint: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: datapoint %d", ErrNotFound, datapointID)
	}
	return nil
}

// UpdateDatapointProbmethod changes how a datapoint's per-model scores are
// reduced.
func (r *EntityRepository) UpdateDatapointProbmethod(ctx context.Context, datapointID int64, probmethod string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE datapoint SET probmethod_embedding = $1 WHERE id = $2`, probmethod, datapointID)
	if err != nil {
		return fmt.Errorf("failed to update datapoint probmethod: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: datapoint %d", ErrNotFound, datapointID)
	}
	return nil
}
