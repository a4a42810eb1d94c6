package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrNoFrames is returned when a sequence root holds no .gltf or .glb files.
var ErrNoFrames = errors.New("decoder: no glTF frames found")

// gltfSequenceDecoder streams a capture exported as one glTF or GLB file per frame.
type gltfSequenceDecoder struct {
	root        string
	sequences   [][]string
	frameRate   float64
	textureSize int

	log *zap.Logger
}

var _ Decoder = &gltfSequenceDecoder{}

// NewGLTFSequenceDecoder indexes the frame files under root. When root itself holds .gltf or
// .glb files it is a single sequence; otherwise every subdirectory holding frame files is one
// sequence, in name order. Frames within a sequence are ordered by name with digit runs
// compared numerically, so frame_2 sorts before frame_10.
//
// Parameters:
//   - root: directory of the exported capture
//   - options: functional options
//
// Returns:
//   - Decoder: the sequence decoder
//   - error: ErrNoFrames or a directory read error
func NewGLTFSequenceDecoder(root string, options ...GLTFBuilderOption) (Decoder, error) {
	d := &gltfSequenceDecoder{
		root:      root,
		frameRate: 30,
		log:       zap.NewNop(),
	}
	for _, opt := range options {
		opt(d)
	}

	frames, err := listFrameFiles(root)
	if err != nil {
		return nil, err
	}
	if len(frames) > 0 {
		d.sequences = [][]string{frames}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read sequence root: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			frames, err := listFrameFiles(filepath.Join(root, e.Name()))
			if err != nil {
				return nil, err
			}
			if len(frames) > 0 {
				d.sequences = append(d.sequences, frames)
			}
		}
	}
	if len(d.sequences) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrNoFrames)
	}

	d.log.Debug("indexed glTF sequences",
		zap.String("root", root),
		zap.Int("sequences", len(d.sequences)),
		zap.Int("frames", len(d.sequences[0])),
	)
	return d, nil
}

func (d *gltfSequenceDecoder) SequenceCount() int {
	return len(d.sequences)
}

func (d *gltfSequenceDecoder) FrameCount(sequenceIndex int) int {
	if sequenceIndex < 0 || sequenceIndex >= len(d.sequences) {
		return 0
	}
	return len(d.sequences[sequenceIndex])
}

func (d *gltfSequenceDecoder) FrameRate() float64 {
	return d.frameRate
}

func (d *gltfSequenceDecoder) Decode(ctx context.Context, sequenceIndex, frameIndex int) (*Frame, error) {
	if sequenceIndex < 0 || sequenceIndex >= len(d.sequences) {
		return nil, fmt.Errorf("sequence %d of %d: %w", sequenceIndex, len(d.sequences), ErrSequenceOutOfRange)
	}
	files := d.sequences[sequenceIndex]
	if frameIndex < 0 || frameIndex >= len(files) {
		return nil, fmt.Errorf("frame %d of %d: %w", frameIndex, len(files), ErrFrameOutOfRange)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := files[frameIndex]
	file, err := parseGLTFFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f, err := d.buildFrame(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.SequenceIndex = sequenceIndex
	f.FrameIndex = frameIndex

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.Repair(d.log.With(zap.String("file", path)))
	return f, nil
}

// primitiveStreams is the decoded data of one triangle primitive before merging.
type primitiveStreams struct {
	positions []float32
	normals   []float32
	colors    []uint8
	texCoords [][]float32
	indices   []uint32
	material  *int
}

// buildFrame merges every triangle primitive reachable from the default scene into one frame.
// Streams missing from some primitives are padded so all streams stay vertex-aligned.
func (d *gltfSequenceDecoder) buildFrame(file *gltfFile) (*Frame, error) {
	var prims []primitiveStreams
	for _, mi := range sceneMeshes(file.document) {
		mesh := &file.document.Meshes[mi]
		for pi := range mesh.Primitives {
			prim := &mesh.Primitives[pi]
			if prim.Mode != nil && *prim.Mode != gltfPrimitiveModeTriangles {
				d.log.Warn("skipping non-triangle primitive",
					zap.String("mesh", mesh.Name),
					zap.Int("primitive", pi),
					zap.Int("mode", *prim.Mode),
				)
				continue
			}
			s, err := readPrimitive(file, prim)
			if err != nil {
				return nil, fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
			prims = append(prims, s)
		}
	}
	if len(prims) == 0 {
		return nil, errors.New("no triangle primitives")
	}

	hasNormals, hasColors, uvSets := false, false, 0
	for _, p := range prims {
		hasNormals = hasNormals || p.normals != nil
		hasColors = hasColors || p.colors != nil
		uvSets = max(uvSets, len(p.texCoords))
	}

	f := &Frame{TexCoords: make([][]float32, uvSets)}
	for _, p := range prims {
		base := uint32(len(f.Positions) / 3)
		vc := len(p.positions) / 3
		f.Positions = append(f.Positions, p.positions...)
		if hasNormals {
			f.Normals = appendPadded(f.Normals, p.normals, 3*vc, 0)
		}
		if hasColors {
			f.Colors = appendPadded(f.Colors, p.colors, 4*vc, 255)
		}
		for set := range f.TexCoords {
			var uv []float32
			if set < len(p.texCoords) {
				uv = p.texCoords[set]
			}
			f.TexCoords[set] = appendPadded(f.TexCoords[set], uv, 2*vc, 0)
		}
		for _, i := range p.indices {
			f.Indices = append(f.Indices, base+i)
		}
	}

	if tex, err := d.baseColorTexture(file, prims); err != nil {
		d.log.Warn("failed to decode base color texture", zap.Error(err))
	} else {
		f.Texture = tex
	}
	return f, nil
}

// sceneMeshes returns the mesh indices of the default scene in traversal order, or every mesh
// when the document has no scenes.
func sceneMeshes(doc *gltfDocument) []int {
	if len(doc.Scenes) == 0 {
		out := make([]int, len(doc.Meshes))
		for i := range out {
			out[i] = i
		}
		return out
	}

	scene := 0
	if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
		scene = *doc.Scene
	}
	var out []int
	visited := make(map[int]bool)
	var walk func(n int)
	walk = func(n int) {
		if n < 0 || n >= len(doc.Nodes) || visited[n] {
			return
		}
		visited[n] = true
		node := &doc.Nodes[n]
		if node.Mesh != nil && *node.Mesh >= 0 && *node.Mesh < len(doc.Meshes) {
			out = append(out, *node.Mesh)
		}
		for _, c := range node.Children {
			walk(c)
		}
	}
	for _, n := range doc.Scenes[scene].Nodes {
		walk(n)
	}
	return out
}

func readPrimitive(file *gltfFile, prim *gltfPrimitive) (primitiveStreams, error) {
	s := primitiveStreams{material: prim.Material}

	pos, ok := prim.Attributes["POSITION"]
	if !ok {
		return s, errors.New("primitive has no POSITION attribute")
	}
	var err error
	if s.positions, err = file.readFloats(pos, gltfAccessorTypeVec3); err != nil {
		return s, fmt.Errorf("failed to read positions: %w", err)
	}
	vc := len(s.positions) / 3

	if n, ok := prim.Attributes["NORMAL"]; ok {
		if s.normals, err = file.readFloats(n, gltfAccessorTypeVec3); err != nil {
			return s, fmt.Errorf("failed to read normals: %w", err)
		}
	}

	if c, ok := prim.Attributes["COLOR_0"]; ok {
		if s.colors, err = readColors(file, c); err != nil {
			return s, fmt.Errorf("failed to read colors: %w", err)
		}
	}

	for set := 0; ; set++ {
		a, ok := prim.Attributes[fmt.Sprintf("TEXCOORD_%d", set)]
		if !ok {
			break
		}
		uv, err := file.readFloats(a, gltfAccessorTypeVec2)
		if err != nil {
			return s, fmt.Errorf("failed to read texcoords %d: %w", set, err)
		}
		s.texCoords = append(s.texCoords, uv)
	}

	if prim.Indices != nil {
		if s.indices, err = file.readIndices(*prim.Indices); err != nil {
			return s, fmt.Errorf("failed to read indices: %w", err)
		}
	} else {
		s.indices = make([]uint32, vc)
		for i := range s.indices {
			s.indices[i] = uint32(i)
		}
	}
	return s, nil
}

// readColors converts a VEC3 or VEC4 color accessor to RGBA8.
func readColors(file *gltfFile, accessor int) ([]uint8, error) {
	if accessor < 0 || accessor >= len(file.document.Accessors) {
		return nil, fmt.Errorf("accessor index %d out of range", accessor)
	}
	acc := &file.document.Accessors[accessor]
	comps := gltfAccessorTypeComponentCount(acc.Type)
	if comps != 3 && comps != 4 {
		return nil, fmt.Errorf("color accessor is %s", acc.Type)
	}
	values, err := file.readFloats(accessor, acc.Type)
	if err != nil {
		return nil, err
	}

	n := len(values) / comps
	out := make([]uint8, 0, 4*n)
	for i := 0; i < n; i++ {
		c := values[i*comps:]
		a := float32(1)
		if comps == 4 {
			a = c[3]
		}
		out = append(out, unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(a))
	}
	return out, nil
}

// baseColorTexture decodes the base color image of the first primitive material that has one.
func (d *gltfSequenceDecoder) baseColorTexture(file *gltfFile, prims []primitiveStreams) (*TextureFrame, error) {
	doc := file.document
	for _, p := range prims {
		if p.material == nil || *p.material < 0 || *p.material >= len(doc.Materials) {
			continue
		}
		pbr := doc.Materials[*p.material].PbrMetallicRoughness
		if pbr == nil || pbr.BaseColorTexture == nil {
			continue
		}
		ti := pbr.BaseColorTexture.Index
		if ti < 0 || ti >= len(doc.Textures) || doc.Textures[ti].Source == nil {
			return nil, fmt.Errorf("texture %d has no source image", ti)
		}
		si := *doc.Textures[ti].Source
		if si < 0 || si >= len(doc.Images) {
			return nil, fmt.Errorf("image index %d out of range", si)
		}
		return d.decodeImage(file, &doc.Images[si])
	}
	return nil, nil
}

func (d *gltfSequenceDecoder) decodeImage(file *gltfFile, img *gltfImage) (*TextureFrame, error) {
	var data []byte
	var err error
	switch {
	case img.BufferView != nil:
		data, err = file.bufferViewData(*img.BufferView)
	case img.URI != "":
		data, err = file.loadURI(img.URI)
	default:
		err = errors.New("image has neither bufferView nor uri")
	}
	if err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if d.textureSize > 0 {
		w, h = d.textureSize, d.textureSize
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	}
	return &TextureFrame{Width: w, Height: h, Pixels: dst.Pix}, nil
}

// listFrameFiles returns the .gltf and .glb files directly inside dir in frame order.
func listFrameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".gltf", ".glb":
			names = append(names, e.Name())
		}
	}
	slices.SortFunc(names, naturalCompare)
	for i, n := range names {
		names[i] = filepath.Join(dir, n)
	}
	return names, nil
}

// naturalCompare orders strings with embedded digit runs compared by value.
func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		da, db := digitPrefix(a), digitPrefix(b)
		if da > 0 && db > 0 {
			na, nb := strings.TrimLeft(a[:da], "0"), strings.TrimLeft(b[:db], "0")
			if c := len(na) - len(nb); c != 0 {
				return c
			}
			if c := strings.Compare(na, nb); c != 0 {
				return c
			}
			a, b = a[da:], b[db:]
			continue
		}
		if a[0] != b[0] {
			return int(a[0]) - int(b[0])
		}
		a, b = a[1:], b[1:]
	}
	return len(a) - len(b)
}

func digitPrefix(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}

func appendPadded[T any](dst, src []T, want int, fill T) []T {
	if len(src) > want {
		src = src[:want]
	}
	dst = append(dst, src...)
	for i := len(src); i < want; i++ {
		dst = append(dst, fill)
	}
	return dst
}

func unorm8(v float32) uint8 {
	return uint8(min(max(v, 0), 1)*255 + 0.5)
}
