// Package maphost is a self-contained graticule.Host: a web-mercator
// camera over keyed source, layer and image registries, with PNG
// rendering of the installed layers. The service, the render CLI and
// the integration tests all drive controllers against it.
//
// A Map is not safe for concurrent use; callers serialize access the
// same way they do for a Controller.
package maphost

import (
	"fmt"
	"image"

	"github.com/paulmach/orb/geojson"

	"github.com/sqlnice/graticule/pkg/graticule"
)

// Map implements graticule.Host. Layers render in insertion order.
type Map struct {
	cam Camera

	sources  map[string]*geojson.FeatureCollection
	layers   map[string]graticule.LayerSpec
	layerIDs []string
	images   map[string]*image.RGBA
}

var _ graticule.Host = (*Map)(nil)

// New builds an empty map at the given camera.
func New(cam Camera) *Map {
	return &Map{
		cam:     cam.normalized(),
		sources: map[string]*geojson.FeatureCollection{},
		layers:  map[string]graticule.LayerSpec{},
		images:  map[string]*image.RGBA{},
	}
}

func (m *Map) HasSource(id string) bool {
	_, ok := m.sources[id]
	return ok
}

func (m *Map) AddSource(id string, fc *geojson.FeatureCollection) error {
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	m.sources[id] = fc
	return nil
}

func (m *Map) SetSourceData(id string, fc *geojson.FeatureCollection) error {
	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("source %q not found", id)
	}
	m.sources[id] = fc
	return nil
}

func (m *Map) RemoveSource(id string) error {
	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("source %q not found", id)
	}
	delete(m.sources, id)
	return nil
}

// Source returns the feature collection behind a source id.
func (m *Map) Source(id string) (*geojson.FeatureCollection, bool) {
	fc, ok := m.sources[id]
	return fc, ok
}

func (m *Map) HasLayer(id string) bool {
	_, ok := m.layers[id]
	return ok
}

func (m *Map) AddLayer(spec graticule.LayerSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("layer id is required")
	}
	if _, ok := m.layers[spec.ID]; ok {
		return fmt.Errorf("layer %q already exists", spec.ID)
	}
	m.layers[spec.ID] = spec
	m.layerIDs = append(m.layerIDs, spec.ID)
	return nil
}

func (m *Map) RemoveLayer(id string) error {
	if _, ok := m.layers[id]; !ok {
		return fmt.Errorf("layer %q not found", id)
	}
	delete(m.layers, id)
	for i, lid := range m.layerIDs {
		if lid == id {
			m.layerIDs = append(m.layerIDs[:i], m.layerIDs[i+1:]...)
			break
		}
	}
	return nil
}

// Layer returns an installed layer spec.
func (m *Map) Layer(id string) (graticule.LayerSpec, bool) {
	spec, ok := m.layers[id]
	return spec, ok
}

// Layers lists installed layers in render order.
func (m *Map) Layers() []graticule.LayerSpec {
	out := make([]graticule.LayerSpec, 0, len(m.layerIDs))
	for _, id := range m.layerIDs {
		out = append(out, m.layers[id])
	}
	return out
}

func (m *Map) HasImage(id string) bool {
	_, ok := m.images[id]
	return ok
}

func (m *Map) AddImage(id string, img *image.RGBA) error {
	if _, ok := m.images[id]; ok {
		return fmt.Errorf("image %q already exists", id)
	}
	m.images[id] = img
	return nil
}

func (m *Map) UpdateImage(id string, img *image.RGBA) error {
	if _, ok := m.images[id]; !ok {
		return fmt.Errorf("image %q not found", id)
	}
	m.images[id] = img
	return nil
}
