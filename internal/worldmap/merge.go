package worldmap

import (
	"fmt"
	"math"
	"time"
)

// Position is a point in location-local 3D space
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns the Euclidean distance between two positions
func (p Position) DistanceTo(o Position) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	dz := p.Z - o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// MapFeature is a physical feature placed on a location's map
type MapFeature struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Position   Position               `json:"position"`
	Scale      *float64               `json:"scale,omitempty"`
	Rotation   *float64               `json:"rotation,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// MapEntity is a reference to an NPC or other store-owned entity placed
// on the map. Entities always carry the id assigned by their owning store.
type MapEntity struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
}

// MapData describes the spatial state of a location
type MapData struct {
	Terrain     string       `json:"terrain,omitempty"`
	Atmosphere  string       `json:"atmosphere,omitempty"`
	Weather     string       `json:"weather,omitempty"`
	Lighting    string       `json:"lighting,omitempty"`
	CubemapRefs []string     `json:"cubemap_refs,omitempty"`
	Features    []MapFeature `json:"features"`
	Entities    []MapEntity  `json:"entities"`
	LastUpdated time.Time    `json:"last_updated"`
}

// fuzzyKey builds a lookup key that treats features of the same type within
// rounding distance of each other as the same real-world thing
func fuzzyKey(featureType string, p Position) string {
	return fmt.Sprintf("%s:%.0f:%.0f:%.0f", featureType, math.Round(p.X), math.Round(p.Y), math.Round(p.Z))
}

// featureID generates a stable id from a feature's type, position and the
// merge timestamp. The seq parameter disambiguates collisions within one
// merge call.
func featureID(featureType string, p Position, ts time.Time, seq int) string {
	return fmt.Sprintf("%s-%d-%d-%d-%d-%d",
		featureType, int(math.Round(p.X)), int(math.Round(p.Y)), int(math.Round(p.Z)), ts.UnixMilli(), seq)
}

// mergeFeatureInto copies the populated fields of src onto dst, keeping
// dst's id
func mergeFeatureInto(dst *MapFeature, src MapFeature) {
	if src.Type != "" {
		dst.Type = src.Type
	}
	dst.Position = src.Position
	if src.Scale != nil {
		dst.Scale = src.Scale
	}
	if src.Rotation != nil {
		dst.Rotation = src.Rotation
	}
	if len(src.Properties) > 0 {
		if dst.Properties == nil {
			dst.Properties = make(map[string]interface{})
		}
		for k, v := range src.Properties {
			dst.Properties[k] = v
		}
	}
}

// Merge reconciles incoming partial map data into existing map data without
// discarding untouched fields. Features are deduplicated by id first, then
// by type + rounded position, so a source that omits ids does not produce
// duplicates on repeated merges. Every feature in the result carries a
// non-empty id. The returned value is a new MapData; neither input is
// mutated.
func Merge(existing, incoming *MapData) *MapData {
	now := time.Now()

	if incoming == nil {
		if existing == nil {
			return &MapData{Features: []MapFeature{}, Entities: []MapEntity{}, LastUpdated: now}
		}
		out := cloneMapData(existing)
		out.LastUpdated = now
		return out
	}

	if existing == nil {
		out := cloneMapData(incoming)
		seq := 0
		for i := range out.Features {
			if out.Features[i].ID == "" {
				out.Features[i].ID = featureID(out.Features[i].Type, out.Features[i].Position, now, seq)
				seq++
			}
		}
		out.LastUpdated = now
		return out
	}

	out := cloneMapData(existing)

	// Scalars overwrite wholesale when present
	if incoming.Terrain != "" {
		out.Terrain = incoming.Terrain
	}
	if incoming.Atmosphere != "" {
		out.Atmosphere = incoming.Atmosphere
	}
	if incoming.Weather != "" {
		out.Weather = incoming.Weather
	}
	if incoming.Lighting != "" {
		out.Lighting = incoming.Lighting
	}
	if len(incoming.CubemapRefs) > 0 {
		out.CubemapRefs = append([]string(nil), incoming.CubemapRefs...)
	}

	byID := make(map[string]int, len(out.Features))
	byFuzzy := make(map[string]int, len(out.Features))
	for i, f := range out.Features {
		byID[f.ID] = i
		byFuzzy[fuzzyKey(f.Type, f.Position)] = i
	}

	seq := 0
	for _, inc := range incoming.Features {
		if inc.ID != "" {
			if i, ok := byID[inc.ID]; ok {
				mergeFeatureInto(&out.Features[i], inc)
				continue
			}
		}
		if i, ok := byFuzzy[fuzzyKey(inc.Type, inc.Position)]; ok {
			mergeFeatureInto(&out.Features[i], inc)
			continue
		}

		added := inc
		if added.ID == "" {
			added.ID = featureID(added.Type, added.Position, now, seq)
			seq++
		}
		out.Features = append(out.Features, added)
		byID[added.ID] = len(out.Features) - 1
		byFuzzy[fuzzyKey(added.Type, added.Position)] = len(out.Features) - 1
	}

	entityIdx := make(map[string]int, len(out.Entities))
	for i, e := range out.Entities {
		entityIdx[e.ID] = i
	}
	for _, inc := range incoming.Entities {
		if i, ok := entityIdx[inc.ID]; ok {
			out.Entities[i] = inc
			continue
		}
		out.Entities = append(out.Entities, inc)
		entityIdx[inc.ID] = len(out.Entities) - 1
	}

	out.LastUpdated = now
	return out
}

// NearestFeature returns the feature closest to p within radius, scanning
// all features. Data volumes here are small enough that a spatial index is
// not worth the bookkeeping.
func (m *MapData) NearestFeature(p Position, radius float64) (*MapFeature, bool) {
	if m == nil {
		return nil, false
	}

	best := -1
	bestDist := radius
	for i, f := range m.Features {
		d := f.Position.DistanceTo(p)
		if d <= bestDist {
			best = i
			bestDist = d
		}
	}

	if best < 0 {
		return nil, false
	}
	found := m.Features[best]
	return &found, true
}

// FeaturesNear returns all features within radius of p
func (m *MapData) FeaturesNear(p Position, radius float64) []MapFeature {
	if m == nil {
		return nil
	}

	var result []MapFeature
	for _, f := range m.Features {
		if f.Position.DistanceTo(p) <= radius {
			result = append(result, f)
		}
	}
	return result
}

func cloneMapData(m *MapData) *MapData {
	out := &MapData{
		Terrain:     m.Terrain,
		Atmosphere:  m.Atmosphere,
		Weather:     m.Weather,
		Lighting:    m.Lighting,
		LastUpdated: m.LastUpdated,
	}
	if len(m.CubemapRefs) > 0 {
		out.CubemapRefs = append([]string(nil), m.CubemapRefs...)
	}
	out.Features = make([]MapFeature, len(m.Features))
	for i, f := range m.Features {
		cf := f
		if f.Properties != nil {
			cf.Properties = make(map[string]interface{}, len(f.Properties))
			for k, v := range f.Properties {
				cf.Properties[k] = v
			}
		}
		out.Features[i] = cf
	}
	out.Entities = append([]MapEntity(nil), m.Entities...)
	if out.Entities == nil {
		out.Entities = []MapEntity{}
	}
	return out
}
