package database

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadSettings is returned when a settings value has the wrong type.
var ErrBadSettings = errors.New("database: bad settings value")

// DefaultCacheMaxEntries is the search-cache size cap applied when a
// searchdomain does not configure one.
const DefaultCacheMaxEntries = 10000

// Settings is the per-searchdomain settings record, stored as JSON inline
// with the searchdomain row. The revalidation flags select which mutation
// kinds invalidate the entity cache and clear the search cache.
type Settings struct {
	CacheMaxEntries                  int  `json:"cache_maxentries"`
	CacheRevalidationEntityAdd       bool `json:"cache_revalidation_entity_add"`
	CacheRevalidationEntityRemove    bool `json:"cache_revalidation_entity_remove"`
	CacheRevalidationEmbeddingUpdate bool `json:"cache_revalidation_embedding_update"`
	CacheRevalidationDatapointCreate bool `json:"cache_revalidation_datapoint_create"`
	CacheRevalidationDatapointUpdate bool `json:"cache_revalidation_datapoint_update"`
	CacheRevalidationDatapointRemove bool `json:"cache_revalidation_datapoint_remove"`
}

// DefaultSettings returns the documented defaults: a 10000-entry cache cap
// and every revalidation flag on.
func DefaultSettings() Settings {
	return Settings{
		CacheMaxEntries:                  DefaultCacheMaxEntries,
		CacheRevalidationEntityAdd:       true,
		CacheRevalidationEntityRemove:    true,
		CacheRevalidationEmbeddingUpdate: true,
		CacheRevalidationDatapointCreate: true,
		CacheRevalidationDatapointUpdate: true,
		CacheRevalidationDatapointRemove: true,
	}
}

// ToJSON serializes the settings record for the settings column.
func (s Settings) ToJSON() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// SettingsFromJSON parses a settings column value. Unknown keys are
// ignored, missing keys keep their defaults, and malformed JSON yields the
// defaults along with the parse error.
func SettingsFromJSON(raw string) (Settings, error) {
	s := DefaultSettings()
	if raw == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return DefaultSettings(), fmt.Errorf("database: malformed settings: %w", err)
	}
	return s, nil
}

// Apply sets one settings key from an untyped value, as delivered by the
// update-setting API. A value of the wrong type is rejected with
// ErrBadSettings rather than coerced.
func (s *Settings) Apply(key string, value any) error {
	switch key {
	case "cache_maxentries":
		n, ok := asInt(value)
		if !ok || n <= 0 {
			return fmt.Errorf("%w: %s wants a positive integer, got %v", ErrBadSettings, key, value)
		}
		s.CacheMaxEntries = n
		return nil
	case "cache_revalidation_entity_add":
		return applyBool(&s.CacheRevalidationEntityAdd, key, value)
	case "cache_revalidation_entity_remove":
		return applyBool(&s.CacheRevalidationEntityRemove, key, value)
	case "cache_revalidation_embedding_update":
		return applyBool(&s.CacheRevalidationEmbeddingUpdate, key, value)
	case "cache_revalidation_datapoint_create":
		return applyBool(&s.CacheRevalidationDatapointCreate, key, value)
	case "cache_revalidation_datapoint_update":
		return applyBool(&s.CacheRevalidationDatapointUpdate, key, value)
	case "cache_revalidation_datapoint_remove":
		return applyBool(&s.CacheRevalidationDatapointRemove, key, value)
	}
	return fmt.Errorf("%w: unknown setting %q", ErrBadSettings, key)
}

func applyBool(dst *bool, key string, value any) error {
	b, ok := value.(bool)
	if !ok {
		return fmt.Errorf("%w: %s wants a boolean, got %v", ErrBadSettings, key, value)
	}
	*dst = b
	return nil
}

// asInt accepts the integer shapes JSON decoding produces.
func asInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
