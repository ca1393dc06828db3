package model

// FieldType classifies dataset fields for schema comparison and DDL
type FieldType string

const (
	FieldTypeText         FieldType = "text"
	FieldTypeInteger      FieldType = "integer"
	FieldTypeSmallInteger FieldType = "small_integer"
	FieldTypeDouble       FieldType = "double"
	FieldTypeSingle       FieldType = "single"
	FieldTypeDate         FieldType = "date"
	FieldTypeGUID         FieldType = "guid"
	FieldTypeGeometry     FieldType = "geometry"

	// FieldTypeNumeric is the abstract class all numeric subtypes collapse
	// into during schema comparison. It never appears in a real dataset.
	FieldTypeNumeric FieldType = "numeric"
)

// IsNumeric reports whether the type collapses into the abstract numeric class
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldTypeInteger, FieldTypeSmallInteger, FieldTypeDouble, FieldTypeSingle:
		return true
	default:
		return false
	}
}

// Abstract returns the type used for schema comparison, collapsing all
// numeric subtypes into FieldTypeNumeric
func (t FieldType) Abstract() FieldType {
	if t.IsNumeric() {
		return FieldTypeNumeric
	}
	return t
}

// Field describes a single dataset field
type Field struct {
	Name   string
	Type   FieldType
	Length int // character length for text fields, 0 otherwise
}

// DatasetPair associates one source dataset with the destination dataset it
// keeps in sync. It is owned by the caller and read-only for the duration of
// one synchronization run.
type DatasetPair struct {
	// Name identifies the pair; it is also the name of its hash index table
	Name string

	Source               string
	SourceWorkspace      string
	Destination          string
	DestinationWorkspace string
	DestinationName      string

	PrimaryKey     string
	PrimaryKeyType FieldType

	SourceSRID      int
	DestinationSRID int
	Transformation  string

	// Tabular marks a dataset with no geometry column
	Tabular bool
}

// IsTable reports whether the pair carries no geometry
func (p *DatasetPair) IsTable() bool {
	return p.Tabular
}

// NeedsReproject reports whether source records must be reprojected into the
// destination coordinate system before insertion
func (p *DatasetPair) NeedsReproject() bool {
	if p.Tabular || p.DestinationSRID == 0 {
		return false
	}
	return p.SourceSRID != p.DestinationSRID
}
