package database

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundtrip(t *testing.T) {
	s := DefaultSettings()
	s.CacheMaxEntries = 42
	s.CacheRevalidationEntityAdd = false

	parsed, err := SettingsFromJSON(s.ToJSON())
	require.NoError(t, err)
	assert.Equal(t, s, parsed)
}

func TestSettingsFromJSONMissingKeysDefault(t *testing.T) {
	parsed, err := SettingsFromJSON(`{"cache_maxentries": 7}`)
	require.NoError(t, err)
	assert.Equal(t, 7, parsed.CacheMaxEntries)
	assert.True(t, parsed.CacheRevalidationEntityAdd)
	assert.True(t, parsed.CacheRevalidationDatapointRemove)
}

func TestSettingsFromJSONUnknownKeysIgnored(t *testing.T) {
	parsed, err := SettingsFromJSON(`{"cache_maxentries": 3, "color": "purple"}`)
	require.NoError(t, err)
	assert.Equal(t, 3, parsed.CacheMaxEntries)
}

func TestSettingsFromJSONMalformed(t *testing.T) {
	parsed, err := SettingsFromJSON(`{broken`)
	assert.Error(t, err)
	assert.Equal(t, DefaultSettings(), parsed)
}

func TestSettingsFromJSONEmpty(t *testing.T) {
	parsed, err := SettingsFromJSON("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), parsed)
}

func TestSettingsApply(t *testing.T) {
	s := DefaultSettings()

	require.NoError(t, s.Apply("cache_maxentries", 500))
	assert.Equal(t, 500, s.CacheMaxEntries)

	// JSON-decoded numbers arrive as float64.
	require.NoError(t, s.Apply("cache_maxentries", float64(250)))
	assert.Equal(t, 250, s.CacheMaxEntries)

	require.NoError(t, s.Apply("cache_revalidation_entity_add", false))
	assert.False(t, s.CacheRevalidationEntityAdd)
}

func TestSettingsApplyWrongType(t *testing.T) {
	s := DefaultSettings()

	err := s.Apply("cache_maxentries", "lots")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadSettings))
	assert.Equal(t, DefaultCacheMaxEntries, s.CacheMaxEntries, "rejected value must not be applied")

	err = s.Apply("cache_revalidation_entity_add", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadSettings))

	err = s.Apply("cache_maxentries", -3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadSettings))

	err = s.Apply("cache_maxentries", 1.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadSettings))
}

func TestSettingsApplyUnknownKey(t *testing.T) {
	s := DefaultSettings()
	err := s.Apply("no_such_setting", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadSettings))
}
