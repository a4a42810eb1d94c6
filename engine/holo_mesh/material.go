package holo_mesh

import (
	"maps"
	"sync"
)

// MaterialParameters is one side of a double-buffered material.
type MaterialParameters struct {
	Scalars  map[string]float32
	Vectors  map[string][4]float32
	Textures map[string]string
}

func newMaterialParameters() *MaterialParameters {
	return &MaterialParameters{
		Scalars:  make(map[string]float32),
		Vectors:  make(map[string][4]float32),
		Textures: make(map[string]string),
	}
}

func (p *MaterialParameters) clone() MaterialParameters {
	return MaterialParameters{
		Scalars:  maps.Clone(p.Scalars),
		Vectors:  maps.Clone(p.Vectors),
		Textures: maps.Clone(p.Textures),
	}
}

// Material holds two parameter sets that flip together with the mesh slots, so per-frame
// bindings such as the frame's texture never show up against the wrong geometry.
type Material struct {
	mu        *sync.RWMutex
	name      string
	params    [2]*MaterialParameters
	readIndex int
}

// NewMaterial creates an empty double-buffered material.
//
// Parameters:
//   - name: the material name used by the renderer
//
// Returns:
//   - *Material: the new material
func NewMaterial(name string) *Material {
	return &Material{
		mu:     &sync.RWMutex{},
		name:   name,
		params: [2]*MaterialParameters{newMaterialParameters(), newMaterialParameters()},
	}
}

// Name returns the material name.
func (m *Material) Name() string {
	return m.name
}

// SetScalar sets a persistent scalar on both sides.
func (m *Material) SetScalar(name string, v float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.params {
		p.Scalars[name] = v
	}
}

// SetVector sets a persistent vector on both sides.
func (m *Material) SetVector(name string, v [4]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.params {
		p.Vectors[name] = v
	}
}

// SetTexture binds a persistent texture reference on both sides.
func (m *Material) SetTexture(name, ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.params {
		p.Textures[name] = ref
	}
}

// SetFrameScalar sets a scalar on the write side only; it becomes visible on the next swap.
func (m *Material) SetFrameScalar(name string, v float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[1-m.readIndex].Scalars[name] = v
}

// SetFrameTexture binds a texture on the write side only; it becomes visible on the next swap.
func (m *Material) SetFrameTexture(name, ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[1-m.readIndex].Textures[name] = ref
}

// Current returns a copy of the read side.
func (m *Material) Current() MaterialParameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params[m.readIndex].clone()
}

func (m *Material) swap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readIndex = 1 - m.readIndex
}
