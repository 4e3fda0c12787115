package cost

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var (
	zipRe       = regexp.MustCompile(`\b(\d{3})\d{2}(?:-\d{4})?\b`)
	stateCodeRe = regexp.MustCompile(`(?:^|,\s*|\s)([A-Za-z]{2})$`)
)

// GeoIndex maps patient locations to regional cost factors relative to a
// national baseline of 1.0.
type GeoIndex struct {
	Default float64            `yaml:"default"`
	ZIP3    map[string]float64 `yaml:"zip3"`
	Cities  map[string]float64 `yaml:"cities"`
	States  map[string]float64 `yaml:"states"`
}

// LoadGeoIndex reads a geographic index from a YAML file.
func LoadGeoIndex(path string) (*GeoIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read index %s", path)
	}
	return ParseGeoIndex(data)
}

// ParseGeoIndex parses a YAML geographic index. The document has a
// top-level "geo_index" key.
func ParseGeoIndex(data []byte) (*GeoIndex, error) {
	var wrapper struct {
		GeoIndex GeoIndex `yaml:"geo_index"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "geo: parse index")
	}

	idx := &wrapper.GeoIndex
	if idx.Default <= 0 {
		idx.Default = 1.0
	}
	idx.Cities = normalizeKeys(idx.Cities)
	idx.States = normalizeKeys(idx.States)
	for key, f := range idx.ZIP3 {
		if f <= 0 {
			return nil, eris.Errorf("geo: zip3 %s has non-positive factor %v", key, f)
		}
	}
	for _, m := range []map[string]float64{idx.Cities, idx.States} {
		for key, f := range m {
			if f <= 0 {
				return nil, eris.Errorf("geo: %s has non-positive factor %v", key, f)
			}
		}
	}
	return idx, nil
}

// Lookup resolves a location ("Austin, TX", "78701", "TX") to a factor. The
// most specific match wins: ZIP3, then city, then state. ok is false when
// nothing matches.
func (g *GeoIndex) Lookup(location string) (factor float64, ok bool) {
	loc := strings.TrimSpace(location)
	if g == nil || loc == "" {
		return 0, false
	}

	if m := zipRe.FindStringSubmatch(loc); m != nil {
		if f, found := g.ZIP3[m[1]]; found {
			return f, true
		}
	}

	key := normalizeLocation(zipRe.ReplaceAllString(loc, ""))
	if f, found := g.Cities[key]; found {
		return f, true
	}

	if m := stateCodeRe.FindStringSubmatch(key); m != nil {
		if f, found := g.States[m[1]]; found {
			return f, true
		}
	}
	if f, found := g.States[key]; found {
		return f, true
	}
	return 0, false
}

// Factor returns the factor for a location, falling back to the index
// default (1.0 when unset) for unknown locations.
func (g *GeoIndex) Factor(location string) float64 {
	if f, ok := g.Lookup(location); ok {
		return f
	}
	if g == nil || g.Default <= 0 {
		return 1.0
	}
	return g.Default
}

func normalizeKeys(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[normalizeLocation(k)] = v
	}
	return out
}

func normalizeLocation(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.Trim(s, ", ")
	return strings.Join(strings.Fields(s), " ")
}
