package api

// Wire models for the HTTP facade. Field casing matches the ingestion
// tooling that produces and consumes these payloads.

// IndexEntity is one element of the ingestion payload: an entity to upsert
// with its attributes and datapoint texts.
type IndexEntity struct {
	Name         string            `json:"Name" binding:"required"`
	Probmethod   string            `json:"Probmethod" binding:"required"`
	Searchdomain string            `json:"Searchdomain" binding:"required"`
	Attributes   map[string]string `json:"Attributes"`
	Datapoints   []IndexDatapoint  `json:"Datapoints"`
}

// IndexDatapoint is one datapoint of an ingestion entity.
type IndexDatapoint struct {
	Name                string   `json:"Name" binding:"required"`
	Text                string   `json:"Text" binding:"required"`
	ProbmethodEmbedding string   `json:"Probmethod_embedding" binding:"required"`
	Model               []string `json:"Model" binding:"required"`
}

// SearchdomainListResults lists the existing searchdomain names.
type SearchdomainListResults struct {
	Searchdomains []string `json:"Searchdomains"`
}

// SearchdomainCreateResults reports a create verb.
type SearchdomainCreateResults struct {
	Success bool   `json:"Success"`
	ID      *int64 `json:"id"`
}

// SearchdomainUpdateResults reports an update verb.
type SearchdomainUpdateResults struct {
	Success bool `json:"Success"`
}

// SearchdomainDeleteResults reports a delete verb and how many entities the
// cascade removed.
type SearchdomainDeleteResults struct {
	Success         bool  `json:"Success"`
	DeletedEntities int64 `json:"DeletedEntities"`
}

// EntityQueryResult is one ranked hit.
type EntityQueryResult struct {
	Name  string  `json:"Name"`
	Score float64 `json:"Score"`
}

// EntityQueryResults is the ranked answer envelope.
type EntityQueryResults struct {
	Results []EntityQueryResult `json:"Results"`
}

// EntityIndexResult reports an ingestion request.
type EntityIndexResult struct {
	Success bool `json:"Success"`
	Indexed int  `json:"Indexed"`
}

// AttributeResult is one attribute of a listed entity.
type AttributeResult struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// EmbeddingResult is one stored embedding of a listed datapoint. Embedding
// is only populated when the listing requests embedding payloads.
type EmbeddingResult struct {
	Model     string `json:"Model"`
	Embedding []byte `json:"Embedding,omitempty"`
}

// DatapointResult is one datapoint of a listed entity.
type DatapointResult struct {
	Name                string            `json:"Name"`
	ProbmethodEmbedding string            `json:"Probmethod_embedding"`
	Embeddings          []EmbeddingResult `json:"Embeddings"`
}

// EntityResult is one listed entity.
type EntityResult struct {
	Name       string            `json:"Name"`
	Probmethod string            `json:"Probmethod"`
	Attributes []AttributeResult `json:"Attributes"`
	Datapoints []DatapointResult `json:"Datapoints"`
}

// EntityListResults is the entity listing envelope.
type EntityListResults struct {
	Entities []EntityResult `json:"Entities"`
}
