package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeSetEmpty(t *testing.T) {
	c := NewChangeSet([]string{"owner", "parcel_id"})

	assert.False(t, c.HasAdds())
	assert.False(t, c.HasDeletes())
	assert.False(t, c.HasChanges())
	assert.Zero(t, c.DeleteCount())
}

func TestDetermineDeletes(t *testing.T) {
	c := NewChangeSet(nil)

	// the same identifier left in both lookups counts once
	c.DetermineDeletes(
		map[string]string{"att1": "id-1", "att2": "id-2"},
		map[string]string{"geom2": "id-2", "geom3": "id-3"},
	)

	assert.Equal(t, 3, c.DeleteCount())
	assert.True(t, c.HasDeletes())
	assert.True(t, c.HasChanges())
}

func TestDeleteFilterSorted(t *testing.T) {
	c := NewChangeSet(nil)
	c.DetermineDeletes(map[string]string{"a": "id-9", "b": "id-1", "c": "id-5"}, nil)

	filter := c.DeleteFilter("objectid", FieldTypeText)

	assert.Equal(t, "objectid", filter.Field)
	assert.Equal(t, []string{"id-1", "id-5", "id-9"}, filter.Values)
}

func TestAddsFilterSorted(t *testing.T) {
	c := NewChangeSet(nil)
	c.KeyField = "parcel_id"
	c.Adds["P3"] = DigestPair{Attribute: "a3"}
	c.Adds["P1"] = DigestPair{Attribute: "a1"}
	c.Adds["P2"] = DigestPair{Attribute: "a2"}

	filter := c.AddsFilter(FieldTypeText)

	assert.Equal(t, "parcel_id", filter.Field)
	assert.Equal(t, FieldTypeText, filter.Type)
	assert.Equal(t, []string{"P1", "P2", "P3"}, filter.Values)
}

func TestKeySetContains(t *testing.T) {
	k := &KeySet{Field: "parcel_id", Values: []string{"P1", "P2"}}

	assert.True(t, k.Contains("P1"))
	assert.False(t, k.Contains("P3"))
	assert.False(t, k.Contains(""))
}
