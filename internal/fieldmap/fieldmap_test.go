package fieldmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/docrules/internal/ir"
)

var maps = Maps{
	"projects": {
		{Ours: "title", Theirs: "name"},
		{Ours: "address.city", Theirs: "location.city"},
		{Ours: "status", Theirs: "state", Value: "new"},
	},
}

func TestMapIncoming(t *testing.T) {
	data := map[string]any{
		"name":     "Roof",
		"location": map[string]any{"city": "Austin"},
		"extra":    "dropped",
	}

	got := MapIncoming("projects", data, maps)

	assert.Equal(t, map[string]any{
		"title":   "Roof",
		"address": map[string]any{"city": "Austin"},
		"status":  "new",
	}, got)
}

func TestMapIncoming_UnmappedCollectionPassesThrough(t *testing.T) {
	data := map[string]any{"a": 1}
	assert.Equal(t, data, MapIncoming("other", data, maps))
}

func TestMapOutgoing(t *testing.T) {
	data := map[string]any{
		"title":   "Roof",
		"address": map[string]any{"city": "Austin", "zip": "78701"},
		"status":  "open",
		"owner":   "u1",
	}

	got := MapOutgoing("projects", data, maps)

	assert.Equal(t, map[string]any{
		"name":     "Roof",
		"address":  map[string]any{"zip": "78701"},
		"location": map[string]any{"city": "Austin"},
		"state":    "open",
		"owner":    "u1",
	}, got)
	assert.Equal(t, "Roof", data["title"], "input must not be modified")
}

func TestFromValue(t *testing.T) {
	got, ok := FromValue(maps)
	assert.True(t, ok)
	assert.Equal(t, maps, got)

	decoded := map[string]any{
		"projects": []any{map[string]any{"ours": "title", "theirs": "name"}},
	}
	got, ok = FromValue(decoded)
	assert.True(t, ok)
	assert.Equal(t, []ir.FieldMap{{Ours: "title", Theirs: "name"}}, got["projects"])

	_, ok = FromValue(nil)
	assert.False(t, ok)
	_, ok = FromValue("nope")
	assert.False(t, ok)
}
