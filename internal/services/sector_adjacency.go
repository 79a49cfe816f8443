package services

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

// defaultRelatedSectors seeds the adjacency table. Relations are symmetric.
var defaultRelatedSectors = map[string][]string{
	"renewable_energy":  {"solar_energy", "wind_energy", "energy_storage", "hydro_energy"},
	"energy_storage":    {"solar_energy", "wind_energy"},
	"energy_efficiency": {"building_retrofit", "district_heating"},
	"clean_transport":   {"electric_vehicles", "ev_charging"},
	"water_management":  {"water_treatment", "flood_defence"},
}

// SectorAdjacency answers whether two sectors are related for sector scoring.
// It never affects which opportunities may be bundled together.
type SectorAdjacency struct {
	related map[string]map[string]bool
}

// sectorAdjacencyFile is the YAML layout of an adjacency override file
type sectorAdjacencyFile struct {
	Related map[string][]string `yaml:"related"`
}

// NewSectorAdjacency builds a symmetric table from the given relations
func NewSectorAdjacency(relations map[string][]string) *SectorAdjacency {
	a := &SectorAdjacency{related: make(map[string]map[string]bool)}
	a.merge(relations)
	return a
}

// DefaultSectorAdjacency returns the built-in table
func DefaultSectorAdjacency() *SectorAdjacency {
	return NewSectorAdjacency(defaultRelatedSectors)
}

// LoadSectorAdjacency reads a YAML file of relations and merges it over the
// built-in table. An empty path returns the built-in table.
//
// Parameters:
//   - path: Location of the YAML file.
//
// Returns:
//   - The merged adjacency table.
//   - Error if the file cannot be read or parsed.
func LoadSectorAdjacency(path string) (*SectorAdjacency, error) {
	a := DefaultSectorAdjacency()
	if path == "" {
		return a, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sector adjacency file: %w", err)
	}

	var file sectorAdjacencyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sector adjacency file: %w", err)
	}

	a.merge(file.Related)
	return a, nil
}

func (a *SectorAdjacency) merge(relations map[string][]string) {
	for sector, others := range relations {
		for _, other := range others {
			a.link(models.NormalizeSector(sector), models.NormalizeSector(other))
		}
	}
}

func (a *SectorAdjacency) link(x, y string) {
	if x == "" || y == "" || x == y {
		return
	}
	if a.related[x] == nil {
		a.related[x] = make(map[string]bool)
	}
	if a.related[y] == nil {
		a.related[y] = make(map[string]bool)
	}
	a.related[x][y] = true
	a.related[y][x] = true
}

// Related reports whether two sectors are adjacent. A sector is not adjacent to itself.
func (a *SectorAdjacency) Related(x, y string) bool {
	if a == nil {
		return false
	}
	return a.related[models.NormalizeSector(x)][models.NormalizeSector(y)]
}

// Size returns the number of sectors with at least one relation
func (a *SectorAdjacency) Size() int {
	return len(a.related)
}
