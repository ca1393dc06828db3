package model

import "sort"

// DigestPair holds the content digests for one record. Geometry is empty for
// tabular records.
type DigestPair struct {
	Attribute string
	Geometry  string
}

// KeySet is a predicate over a set of key values, rendered by each dataset
// store backend into its native filter form
type KeySet struct {
	Field  string
	Type   FieldType
	Values []string
}

// Contains reports whether the stringified value is in the set
func (k *KeySet) Contains(value string) bool {
	for _, v := range k.Values {
		if v == value {
			return true
		}
	}
	return false
}

// ChangeSet classifies every source record of one run as added, unchanged or
// deleted relative to the previous run's hash index.
type ChangeSet struct {
	// Fields is the sorted intersection of source and destination fields
	// with the primary key moved to the end (followed by the geometry field
	// for spatial pairs). It is both the read order for the source stream
	// and the insert order for the destination.
	Fields []string

	// Table is the dataset the add records are read from during apply:
	// the source itself, or the temporary scratch dataset when the pair
	// needs reprojection.
	Table string

	// KeyField is the field the add filter is built over: the primary key,
	// or the duplicated source-key column in the scratch dataset.
	KeyField string

	Adds      map[string]DigestPair
	Unchanged map[string]DigestPair

	// TotalRows counts streamed source records, excluding skipped
	// null-geometry rows
	TotalRows int

	deletes map[string]struct{}
}

// NewChangeSet creates an empty change set over the given field list
func NewChangeSet(fields []string) *ChangeSet {
	return &ChangeSet{
		Fields:    fields,
		Adds:      make(map[string]DigestPair),
		Unchanged: make(map[string]DigestPair),
		deletes:   make(map[string]struct{}),
	}
}

// DetermineDeletes collects the identifiers left in the reverse lookups after
// every source record was matched. Whatever remains no longer corresponds to
// any record in the current source.
func (c *ChangeSet) DetermineDeletes(attributeLookup, geometryLookup map[string]string) {
	for _, id := range attributeLookup {
		c.deletes[id] = struct{}{}
	}
	for _, id := range geometryLookup {
		c.deletes[id] = struct{}{}
	}
}

// HasAdds reports whether any record was classified as added
func (c *ChangeSet) HasAdds() bool {
	return len(c.Adds) > 0
}

// HasDeletes reports whether any previous-run identifier went unmatched
func (c *ChangeSet) HasDeletes() bool {
	return len(c.deletes) > 0
}

// HasChanges reports whether the run must touch the destination at all
func (c *ChangeSet) HasChanges() bool {
	return c.HasAdds() || c.HasDeletes()
}

// DeleteCount returns the number of identifiers to delete
func (c *ChangeSet) DeleteCount() int {
	return len(c.deletes)
}

// DeleteFilter builds the key-set predicate selecting the records to delete,
// keyed by the given identifier field. Values are sorted for deterministic
// apply order.
func (c *ChangeSet) DeleteFilter(field string, fieldType FieldType) *KeySet {
	ids := make([]string, 0, len(c.deletes))
	for id := range c.deletes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return &KeySet{Field: field, Type: fieldType, Values: ids}
}

// AddsFilter builds the key-set predicate selecting the add records from the
// change set's record stream
func (c *ChangeSet) AddsFilter(fieldType FieldType) *KeySet {
	keys := make([]string, 0, len(c.Adds))
	for key := range c.Adds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &KeySet{Field: c.KeyField, Type: fieldType, Values: keys}
}
