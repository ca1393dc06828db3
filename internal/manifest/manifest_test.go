package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshgroeneveld/forklift/internal/model"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
pairs:
  - name: county_parcels
    source: sgid.parcels
    destination: open.parcels
    primary_key: parcel_id
    tabular: true
  - source: sgid.roads
    destination: open.roads
    primary_key: road_id
    source_srid: 26912
    destination_srid: 4326
    transformation: NAD_1983_To_WGS_1984_5
`)

	pairs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	first := pairs[0]
	assert.Equal(t, "county_parcels", first.Name)
	assert.Equal(t, "sgid.parcels", first.Source)
	assert.Equal(t, "sgid", first.SourceWorkspace)
	assert.Equal(t, "open.parcels", first.Destination)
	assert.Equal(t, "parcels", first.DestinationName)
	assert.Equal(t, model.FieldTypeText, first.PrimaryKeyType)
	assert.True(t, first.IsTable())

	second := pairs[1]
	assert.Equal(t, "open_roads", second.Name, "unnamed entries default to workspace_name")
	assert.Equal(t, 26912, second.SourceSRID)
	assert.Equal(t, "NAD_1983_To_WGS_1984_5", second.Transformation)
	assert.True(t, second.NeedsReproject())
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadManifestBadYAML(t *testing.T) {
	path := writeManifest(t, "pairs: [notclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestToModelValidation(t *testing.T) {
	valid := Pair{
		Source:      "sgid.parcels",
		Destination: "open.parcels",
		PrimaryKey:  "parcel_id",
	}

	tests := []struct {
		name   string
		mutate func(*Pair)
		errMsg string
	}{
		{"missing source", func(p *Pair) { p.Source = "" }, "source"},
		{"missing destination", func(p *Pair) { p.Destination = "" }, "destination"},
		{"missing primary key", func(p *Pair) { p.PrimaryKey = "" }, "primary_key"},
		{"unqualified source", func(p *Pair) { p.Source = "parcels" }, "workspace-qualified"},
		{"unqualified destination", func(p *Pair) { p.Destination = "parcels" }, "workspace-qualified"},
		{"unknown key type", func(p *Pair) { p.PrimaryKeyType = "blob" }, "primary_key_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := p.ToModel()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestToModelKeyTypes(t *testing.T) {
	base := Pair{Source: "a.b", Destination: "c.d", PrimaryKey: "k"}

	for keyType, want := range map[string]model.FieldType{
		"":        model.FieldTypeText,
		"text":    model.FieldTypeText,
		"integer": model.FieldTypeInteger,
		"double":  model.FieldTypeDouble,
	} {
		p := base
		p.PrimaryKeyType = keyType
		pair, err := p.ToModel()
		require.NoError(t, err)
		assert.Equal(t, want, pair.PrimaryKeyType, keyType)
	}
}
