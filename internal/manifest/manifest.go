package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joshgroeneveld/forklift/internal/model"
	"github.com/joshgroeneveld/forklift/internal/store"
)

// File is the YAML dataset pairs manifest
type File struct {
	Pairs []Pair `yaml:"pairs"`
}

// Pair is one manifest entry describing a source/destination association
type Pair struct {
	Name            string `yaml:"name"`
	Source          string `yaml:"source"`
	Destination     string `yaml:"destination"`
	PrimaryKey      string `yaml:"primary_key"`
	PrimaryKeyType  string `yaml:"primary_key_type"`
	SourceSRID      int    `yaml:"source_srid"`
	DestinationSRID int    `yaml:"destination_srid"`
	Transformation  string `yaml:"transformation"`
	Tabular         bool   `yaml:"tabular"`
}

// Load parses the manifest file into dataset pairs
func Load(path string) ([]*model.DatasetPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	pairs := make([]*model.DatasetPair, 0, len(file.Pairs))
	for i := range file.Pairs {
		pair, err := file.Pairs[i].ToModel()
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d: %w", i, err)
		}
		pairs = append(pairs, pair)
	}

	return pairs, nil
}

// ToModel validates the manifest entry and converts it to a dataset pair
func (p *Pair) ToModel() (*model.DatasetPair, error) {
	if p.Source == "" {
		return nil, fmt.Errorf("source is required")
	}
	if p.Destination == "" {
		return nil, fmt.Errorf("destination is required")
	}
	if p.PrimaryKey == "" {
		return nil, fmt.Errorf("primary_key is required")
	}

	sourceWorkspace, _ := store.SplitPath(p.Source)
	destinationWorkspace, destinationName := store.SplitPath(p.Destination)
	if sourceWorkspace == "" || destinationWorkspace == "" {
		return nil, fmt.Errorf("datasets must be workspace-qualified (workspace.name)")
	}

	name := p.Name
	if name == "" {
		name = destinationWorkspace + "_" + destinationName
	}

	keyType := model.FieldTypeText
	switch p.PrimaryKeyType {
	case "", "text":
	case "integer":
		keyType = model.FieldTypeInteger
	case "double":
		keyType = model.FieldTypeDouble
	default:
		return nil, fmt.Errorf("unsupported primary_key_type %q", p.PrimaryKeyType)
	}

	return &model.DatasetPair{
		Name:                 name,
		Source:               p.Source,
		SourceWorkspace:      sourceWorkspace,
		Destination:          p.Destination,
		DestinationWorkspace: destinationWorkspace,
		DestinationName:      destinationName,
		PrimaryKey:           p.PrimaryKey,
		PrimaryKeyType:       keyType,
		SourceSRID:           p.SourceSRID,
		DestinationSRID:      p.DestinationSRID,
		Transformation:       p.Transformation,
		Tabular:              p.Tabular,
	}, nil
}
