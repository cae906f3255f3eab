package database

// Searchdomain is one row of the searchdomain table: a named, isolated
// index. Settings is parsed from the settings JSON column.
type Searchdomain struct {
	ID       int64    `db:"id" json:"id"`
	Name     string   `db:"name" json:"name"`
	Settings Settings `db:"-" json:"settings"`
}

// searchdomainRow is the raw table shape with the settings column still
// serialized.
type searchdomainRow struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	Settings string `db:"settings"`
}

// Entity is a searchable record. After hydration it carries its full
// attribute and datapoint graph.
type Entity struct {
	ID             int64  `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	Probmethod     string `db:"probmethod" json:"probmethod"`
	SearchdomainID int64  `db:"id_searchdomain" json:"id_searchdomain"`

	Attributes []Attribute `db:"-" json:"attributes"`
	Datapoints []Datapoint `db:"-" json:"datapoints"`
}

// GetAttribute returns the entity's attribute with the given name.
func (e *Entity) GetAttribute(name string) (Attribute, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Attribute is a flat key-value pair on an entity, used for provenance
// metadata such as lastmodified. Not searched.
type Attribute struct {
	ID       int64  `db:"id" json:"id"`
	EntityID int64  `db:"id_entity" json:"id_entity"`
	Name     string `db:"attribute" json:"attribute"`
	Value    string `db:"value" json:"value"`
}

// Datapoint is a named text field of an entity, embedded separately per
// model. The text itself is not stored; only its embeddings are.
// ProbmethodEmbedding selects how the per-model scores for this datapoint
// are reduced to one scalar.
type Datapoint struct {
	ID                  int64  `db:"id" json:"id"`
	EntityID            int64  `db:"id_entity" json:"id_entity"`
	Name                string `db:"name" json:"name"`
	ProbmethodEmbedding string `db:"probmethod_embedding" json:"probmethod_embedding"`

	Embeddings []Embedding `db:"-" json:"embeddings"`
}

// Embedding is one packed model vector for a datapoint. At most one row
// exists per (datapoint, model) pair.
type Embedding struct {
	ID          int64  `db:"id" json:"id"`
	DatapointID int64  `db:"id_datapoint" json:"id_datapoint"`
	Model       string `db:"model" json:"model"`
	Embedding   []byte `db:"embedding" json:"embedding"`
}

// NewEntity describes an entity to insert. The datapoint texts are embedded
// at insert time and then dropped.
type NewEntity struct {
	Name       string
	Probmethod string
	Attributes map[string]string
	Datapoints []NewDatapoint
}

// NewDatapoint describes a datapoint to insert. Models lists the embedding
// models to run Text through.
type NewDatapoint struct {
	Name                string
	Text                string
	ProbmethodEmbedding string
	Models              []string
}
