package decoder

import (
	"context"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"go.uber.org/zap"
)

const (
	waveAmplitude = 0.15
	waveNumber    = 2 * math32.Pi
)

type proceduralDecoder struct {
	gridSize    int
	gridStep    int
	sequences   int
	frameCount  int
	frameRate   float64
	textureSize int
	bones       int
	latency     time.Duration

	log *zap.Logger
}

var _ Decoder = &proceduralDecoder{}

// NewProceduralDecoder creates a decoder that synthesizes a rippling grid. The grid spans
// [-1, 1] on x and z, the ripple completes one period per sequence, and sequence i has
// gridSize + i*gridStep quads per side.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - Decoder: the procedural decoder
func NewProceduralDecoder(options ...ProceduralBuilderOption) Decoder {
	d := &proceduralDecoder{
		gridSize:   16,
		gridStep:   8,
		sequences:  1,
		frameCount: 60,
		frameRate:  30,
		log:        zap.NewNop(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *proceduralDecoder) SequenceCount() int {
	return d.sequences
}

func (d *proceduralDecoder) FrameCount(sequenceIndex int) int {
	if sequenceIndex < 0 || sequenceIndex >= d.sequences {
		return 0
	}
	return d.frameCount
}

func (d *proceduralDecoder) FrameRate() float64 {
	return d.frameRate
}

func (d *proceduralDecoder) Decode(ctx context.Context, sequenceIndex, frameIndex int) (*Frame, error) {
	if sequenceIndex < 0 || sequenceIndex >= d.sequences {
		return nil, fmt.Errorf("sequence %d of %d: %w", sequenceIndex, d.sequences, ErrSequenceOutOfRange)
	}
	if frameIndex < 0 || frameIndex >= d.frameCount {
		return nil, fmt.Errorf("frame %d of %d: %w", frameIndex, d.frameCount, ErrFrameOutOfRange)
	}

	if d.latency > 0 {
		timer := time.NewTimer(d.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := d.grid(sequenceIndex, frameIndex)
	f.Repair(d.log)
	return f, nil
}

func (d *proceduralDecoder) grid(sequenceIndex, frameIndex int) *Frame {
	quads := d.gridSize + sequenceIndex*d.gridStep
	side := quads + 1
	vc := side * side
	phase := 2 * math32.Pi * float32(frameIndex) / float32(d.frameCount)

	f := &Frame{
		SequenceIndex: sequenceIndex,
		FrameIndex:    frameIndex,
		Positions:     make([]float32, 0, 3*vc),
		Normals:       make([]float32, 0, 3*vc),
		Colors:        make([]uint8, 0, 4*vc),
		TexCoords:     [][]float32{make([]float32, 0, 2*vc)},
		Indices:       make([]uint32, 0, 6*quads*quads),
	}

	for row := 0; row < side; row++ {
		v := float32(row) / float32(quads)
		z := 2*v - 1
		for col := 0; col < side; col++ {
			u := float32(col) / float32(quads)
			x := 2*u - 1

			angle := waveNumber*x + phase
			y := waveAmplitude * math32.Sin(angle)
			slope := waveAmplitude * waveNumber * math32.Cos(angle)
			inv := 1 / math32.Sqrt(slope*slope+1)

			f.Positions = append(f.Positions, x, y, z)
			f.Normals = append(f.Normals, -slope*inv, inv, 0)
			shade := uint8(127 + 127*y/waveAmplitude)
			f.Colors = append(f.Colors, shade, 96, 255-shade, 255)
			f.TexCoords[0] = append(f.TexCoords[0], u, v)
		}
	}

	for row := 0; row < quads; row++ {
		for col := 0; col < quads; col++ {
			i := uint32(row*side + col)
			s := uint32(side)
			f.Indices = append(f.Indices, i, i+s, i+1, i+1, i+s, i+s+1)
		}
	}

	if d.textureSize > 0 {
		f.Texture = checkerTexture(d.textureSize, frameIndex)
	}
	if d.bones > 0 {
		f.BoneTransforms = swayBones(d.bones, phase)
	}
	return f
}

// swayBones returns a chain of joints spread along x, each lifted to ride the ripple.
func swayBones(n int, phase float32) [][16]float32 {
	out := make([][16]float32, n)
	for j := range out {
		x := -1 + 2*float32(j)/float32(max(n-1, 1))
		m := &out[j]
		m[0], m[5], m[10], m[15] = 1, 1, 1, 1
		m[12] = x
		m[13] = waveAmplitude * math32.Sin(waveNumber*x+phase)
	}
	return out
}

// checkerTexture draws an 8x8 checkerboard scrolled by one texel per frame.
func checkerTexture(size, frameIndex int) *TextureFrame {
	cell := max(size/8, 1)
	px := make([]byte, 4*size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			o := 4 * (y*size + x)
			if ((x+frameIndex)/cell+y/cell)%2 == 0 {
				px[o], px[o+1], px[o+2] = 230, 230, 230
			} else {
				px[o], px[o+1], px[o+2] = 40, 40, 40
			}
			px[o+3] = 255
		}
	}
	return &TextureFrame{Width: size, Height: size, Pixels: px}
}
