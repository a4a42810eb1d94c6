package decoder

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

var (
	errInvalidGLTFVersion = errors.New("invalid glTF version: must be 2.0")
	errInvalidGLBMagic    = errors.New("invalid GLB magic number")
	errInvalidGLBVersion  = errors.New("invalid GLB version: must be 2")
	errMissingJSONChunk   = errors.New("GLB file missing JSON chunk")
	errInvalidBufferURI   = errors.New("invalid buffer URI")
	errBufferSizeMismatch = errors.New("buffer size mismatch")
)

// gltfFile is one parsed glTF or GLB file with its buffers resolved.
type gltfFile struct {
	baseDir  string
	document *gltfDocument
	binChunk []byte
}

// parseGLTFFile loads a .gltf or .glb file. GLB is detected by extension or magic number.
func parseGLTFFile(path string) (*gltfFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	isGLB := strings.EqualFold(filepath.Ext(path), ".glb") ||
		(len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == gltfGLBMagic)
	return parseGLTFBytes(data, filepath.Dir(path), isGLB)
}

// parseGLTFBytes parses glTF JSON or a GLB container. External buffer and image URIs
// resolve against baseDir.
func parseGLTFBytes(data []byte, baseDir string, isGLB bool) (*gltfFile, error) {
	f := &gltfFile{baseDir: baseDir}
	jsonData := data
	if isGLB {
		var err error
		if jsonData, f.binChunk, err = splitGLB(data); err != nil {
			return nil, err
		}
	}

	var doc gltfDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse glTF JSON: %w", err)
	}
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return nil, errInvalidGLTFVersion
	}
	if len(doc.ExtensionsRequired) > 0 {
		return nil, fmt.Errorf("unsupported required extensions: %s", strings.Join(doc.ExtensionsRequired, ", "))
	}
	if err := f.loadBuffers(&doc); err != nil {
		return nil, fmt.Errorf("failed to load buffers: %w", err)
	}
	f.document = &doc
	return f, nil
}

// splitGLB returns the JSON and BIN chunks of a GLB container.
// Reference: https://registry.khronos.org/glTF/specs/2.0/glTF-2.0.html#glb-file-format-specification
func splitGLB(data []byte) (jsonData, binData []byte, err error) {
	if len(data) < 12 {
		return nil, nil, errors.New("GLB file too small")
	}
	r := bytes.NewReader(data)

	var header gltfGLBHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to read GLB header: %w", err)
	}
	if header.Magic != gltfGLBMagic {
		return nil, nil, errInvalidGLBMagic
	}
	if header.Version != gltfGLBVersion {
		return nil, nil, errInvalidGLBVersion
	}

	for {
		var chunk gltfGLBChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		if int64(chunk.ChunkLength) > int64(r.Len()) {
			return nil, nil, fmt.Errorf("chunk of %d bytes exceeds file: %w", chunk.ChunkLength, io.ErrUnexpectedEOF)
		}
		body := make([]byte, chunk.ChunkLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, nil, fmt.Errorf("failed to read chunk data: %w", err)
		}
		switch chunk.ChunkType {
		case gltfGLBChunkJSON:
			jsonData = body
		case gltfGLBChunkBIN:
			binData = body
		}
	}

	if jsonData == nil {
		return nil, nil, errMissingJSONChunk
	}
	return jsonData, binData, nil
}

func (f *gltfFile) loadBuffers(doc *gltfDocument) error {
	for i := range doc.Buffers {
		buf := &doc.Buffers[i]
		if buf.URI == "" {
			if i != 0 || f.binChunk == nil {
				return fmt.Errorf("buffer %d has no URI and no GLB binary chunk", i)
			}
			buf.Data = f.binChunk
		} else {
			data, err := f.loadURI(buf.URI)
			if err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
			buf.Data = data
		}
		if len(buf.Data) < buf.ByteLength {
			return fmt.Errorf("buffer %d: %w", i, errBufferSizeMismatch)
		}
	}
	return nil
}

// loadURI resolves a data: URI or a path relative to the file.
func (f *gltfFile) loadURI(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "data:") {
		comma := strings.IndexByte(uri, ',')
		if comma < 0 {
			return nil, errInvalidBufferURI
		}
		header := uri[5:comma]
		if !strings.Contains(header, "base64") {
			return nil, fmt.Errorf("unsupported data URI encoding: %s", header)
		}
		data, err := base64.StdEncoding.DecodeString(uri[comma+1:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(filepath.Join(f.baseDir, filepath.FromSlash(uri)))
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", uri, err)
	}
	return data, nil
}

// bufferViewData returns the bytes a buffer view covers.
func (f *gltfFile) bufferViewData(index int) ([]byte, error) {
	doc := f.document
	if index < 0 || index >= len(doc.BufferViews) {
		return nil, fmt.Errorf("bufferView index %d out of range", index)
	}
	bv := &doc.BufferViews[index]
	if bv.Buffer < 0 || bv.Buffer >= len(doc.Buffers) {
		return nil, fmt.Errorf("bufferView %d: buffer %d out of range", index, bv.Buffer)
	}
	data := doc.Buffers[bv.Buffer].Data
	if bv.ByteOffset < 0 || bv.ByteOffset+bv.ByteLength > len(data) {
		return nil, fmt.Errorf("bufferView %d: %w", index, errBufferSizeMismatch)
	}
	return data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength], nil
}

// accessorElements returns the tightly packed elements of an accessor. Elements past the end
// of the buffer view are cut off rather than failing, so a truncated file still yields the
// complete prefix.
func (f *gltfFile) accessorElements(index int) (*gltfAccessor, []byte, error) {
	doc := f.document
	if index < 0 || index >= len(doc.Accessors) {
		return nil, nil, fmt.Errorf("accessor index %d out of range", index)
	}
	acc := &doc.Accessors[index]
	if acc.Sparse != nil {
		return nil, nil, errors.New("sparse accessors not supported")
	}
	if acc.BufferView == nil {
		return nil, nil, errors.New("accessor has no bufferView")
	}
	view, err := f.bufferViewData(*acc.BufferView)
	if err != nil {
		return nil, nil, err
	}

	elementSize := gltfComponentTypeSize(acc.ComponentType) * gltfAccessorTypeComponentCount(acc.Type)
	if elementSize == 0 {
		return nil, nil, fmt.Errorf("accessor %d: unsupported layout %s/%d", index, acc.Type, acc.ComponentType)
	}
	stride := elementSize
	if bv := doc.BufferViews[*acc.BufferView]; bv.ByteStride != nil && *bv.ByteStride > 0 {
		stride = *bv.ByteStride
	}

	count := acc.Count
	if avail := len(view) - acc.ByteOffset; avail < elementSize {
		count = 0
	} else if n := (avail-elementSize)/stride + 1; n < count {
		count = n
	}

	out := make([]byte, count*elementSize)
	for i := 0; i < count; i++ {
		src := acc.ByteOffset + i*stride
		copy(out[i*elementSize:(i+1)*elementSize], view[src:src+elementSize])
	}
	return acc, out, nil
}

// readFloats reads an accessor of the given type as packed float32 components. Normalized
// integer components map to [0, 1] or [-1, 1].
func (f *gltfFile) readFloats(index int, accessorType string) ([]float32, error) {
	acc, data, err := f.accessorElements(index)
	if err != nil {
		return nil, err
	}
	if acc.Type != accessorType {
		return nil, fmt.Errorf("accessor %d is %s, want %s", index, acc.Type, accessorType)
	}

	size := gltfComponentTypeSize(acc.ComponentType)
	out := make([]float32, len(data)/size)
	for i := range out {
		b := data[i*size:]
		switch acc.ComponentType {
		case gltfComponentTypeFloat:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		case gltfComponentTypeUnsignedByte:
			out[i] = float32(b[0]) / 255
		case gltfComponentTypeUnsignedShort:
			out[i] = float32(binary.LittleEndian.Uint16(b)) / 65535
		case gltfComponentTypeByte:
			out[i] = max(float32(int8(b[0]))/127, -1)
		case gltfComponentTypeShort:
			out[i] = max(float32(int16(binary.LittleEndian.Uint16(b)))/32767, -1)
		default:
			return nil, fmt.Errorf("accessor %d: unsupported component type %d", index, acc.ComponentType)
		}
	}
	return out, nil
}

// readIndices reads a SCALAR accessor of unsigned integers.
func (f *gltfFile) readIndices(index int) ([]uint32, error) {
	acc, data, err := f.accessorElements(index)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltfAccessorTypeScalar {
		return nil, fmt.Errorf("index accessor is not SCALAR: type=%s", acc.Type)
	}

	size := gltfComponentTypeSize(acc.ComponentType)
	out := make([]uint32, len(data)/size)
	for i := range out {
		switch acc.ComponentType {
		case gltfComponentTypeUnsignedByte:
			out[i] = uint32(data[i])
		case gltfComponentTypeUnsignedShort:
			out[i] = uint32(binary.LittleEndian.Uint16(data[2*i:]))
		case gltfComponentTypeUnsignedInt:
			out[i] = binary.LittleEndian.Uint32(data[4*i:])
		default:
			return nil, fmt.Errorf("unsupported index component type: %d", acc.ComponentType)
		}
	}
	return out, nil
}

func gltfComponentTypeSize(componentType int) int {
	switch componentType {
	case gltfComponentTypeByte, gltfComponentTypeUnsignedByte:
		return 1
	case gltfComponentTypeShort, gltfComponentTypeUnsignedShort:
		return 2
	case gltfComponentTypeUnsignedInt, gltfComponentTypeFloat:
		return 4
	default:
		return 0
	}
}

func gltfAccessorTypeComponentCount(accessorType string) int {
	switch accessorType {
	case gltfAccessorTypeScalar:
		return 1
	case gltfAccessorTypeVec2:
		return 2
	case gltfAccessorTypeVec3:
		return 3
	case gltfAccessorTypeVec4:
		return 4
	default:
		return 0
	}
}
