package holo_player

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/Carmen-Shannon/oxy-holo/engine/decoder"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_mesh"
	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOwner struct {
	position [3]float32
}

func (o *testOwner) Name() string         { return "actor" }
func (o *testOwner) Position() [3]float32 { return o.position }
func (o *testOwner) Hidden() bool         { return false }
func (o *testOwner) Valid() bool          { return true }

type testView struct {
	eye [3]float32
}

func (v testView) Position() [3]float32     { return v.eye }
func (v testView) Frustum() common.Frustum  { return common.Frustum{} }
func (v testView) ProjectionScale() float32 { return 1 }

func newTestManager(t *testing.T) holo_manager.Manager {
	t.Helper()
	m := holo_manager.NewManager()
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(m.Shutdown)
	return m
}

func newAttachedPlayer(t *testing.T, m holo_manager.Manager, opts ...PlayerBuilderOption) (Player, *upload.HostUploader) {
	t.Helper()
	dec := decoder.NewProceduralDecoder(decoder.WithGridSize(4), decoder.WithFrameCount(4), decoder.WithTextureSize(8))
	up := upload.NewHostUploader()
	p := NewPlayer(m, dec, up, opts...)
	require.NoError(t, p.Attach(&testOwner{}))
	return p, up
}

func request(p Player, sequenceIndex, frameIndex int) holo_manager.UpdateRequest {
	return holo_manager.UpdateRequest{Handle: p.Handle(), SequenceIndex: sequenceIndex, FrameIndex: frameIndex}
}

func TestUpdateBeforeDecodeIsNotReady(t *testing.T) {
	m := newTestManager(t)
	p, _ := newAttachedPlayer(t, m)

	err := p.UpdateRenderThread(request(p, 0, 0))
	assert.ErrorIs(t, err, ErrFrameNotReady)
	assert.Equal(t, int64(1), p.Stats().NotReady)
	_, _, ok := p.Presented()
	assert.False(t, ok)
}

func TestDecodeUploadAndRetire(t *testing.T) {
	m := newTestManager(t)
	p, up := newAttachedPlayer(t, m)

	require.NoError(t, p.DoThreadedWork(0, 2))
	assert.Equal(t, 1, p.Stats().Staged)
	assert.Positive(t, m.Stats().TotalContainerBytes)
	assert.Positive(t, m.Stats().TotalIOBytes)

	require.NoError(t, p.UpdateRenderThread(request(p, 0, 2)))
	seq, frame, ok := p.Presented()
	assert.True(t, ok)
	assert.Equal(t, 0, seq)
	assert.Equal(t, 2, frame)
	assert.Zero(t, p.Stats().Staged)

	p.Mesh().Read(func(s *holo_mesh.Slot) {
		assert.True(t, s.Initialized())
		assert.Equal(t, 2, s.FrameIndex())
		assert.Equal(t, 25, s.Vertices.Count())
		assert.NotNil(t, s.Texture(AlbedoTexture))
	})
	assert.Equal(t, float32(2), p.Mesh().Material().Current().Scalars["frame_index"])
	assert.Positive(t, up.BytesWritten())
	assert.Positive(t, m.Stats().TotalMeshBytes)

	assert.Positive(t, m.Stats().TotalContainerBytes, "block is held until end of frame")
	p.EndFrameRenderThread(request(p, 0, 2))
	assert.Zero(t, m.Stats().TotalContainerBytes)
}

func TestPresentCarriesBoneTransforms(t *testing.T) {
	m := newTestManager(t)
	dec := decoder.NewProceduralDecoder(decoder.WithGridSize(4), decoder.WithFrameCount(4), decoder.WithBones(2))
	p := NewPlayer(m, dec, upload.NewHostUploader())
	require.NoError(t, p.Attach(&testOwner{}))
	assert.Nil(t, p.PresentedBones())

	require.NoError(t, p.DoThreadedWork(0, 1))
	require.NoError(t, p.UpdateRenderThread(request(p, 0, 1)))
	want, err := dec.Decode(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, want.BoneTransforms, p.PresentedBones())

	require.NoError(t, p.DoThreadedWork(0, 3))
	require.NoError(t, p.UpdateRenderThread(request(p, 0, 3)))
	want, err = dec.Decode(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, want.BoneTransforms, p.PresentedBones())
}

func TestTickDrivesPlayback(t *testing.T) {
	m := newTestManager(t)
	p, _ := newAttachedPlayer(t, m, WithAutoPlay(true), WithFrameRate(10), WithPrefetch(1))

	presents := func(frame int) func() bool {
		return func() bool {
			m.BeginFrame()
			m.EndFrame()
			_, f, ok := p.Presented()
			return ok && f == frame
		}
	}

	require.NoError(t, p.Tick(0))
	require.Eventually(t, presents(0), 5*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Tick(100*time.Millisecond))
	_, frame := p.Position()
	assert.Equal(t, 1, frame)
	require.Eventually(t, presents(1), 5*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Tick(0))
	assert.Empty(t, m.PendingRequests(), "a presented frame is not requested again")
	assert.GreaterOrEqual(t, p.Stats().Presented, int64(2))
}

func TestTickRequiresAttach(t *testing.T) {
	m := newTestManager(t)
	p := NewPlayer(m, decoder.NewProceduralDecoder(), upload.NewHostUploader())
	assert.ErrorIs(t, p.Tick(time.Millisecond), ErrNotAttached)
	assert.Equal(t, uuid.Nil, p.Handle())
}

func TestLoopingWrapsAndOneShotStops(t *testing.T) {
	m := newTestManager(t)
	looping, _ := newAttachedPlayer(t, m, WithAutoPlay(true), WithFrameRate(10), WithPrefetch(0))
	require.NoError(t, looping.Tick(500*time.Millisecond))
	_, frame := looping.Position()
	assert.Equal(t, 1, frame)
	assert.True(t, looping.Playing())

	oneShot, _ := newAttachedPlayer(t, m, WithAutoPlay(true), WithFrameRate(10), WithPrefetch(0), WithLooping(false))
	require.NoError(t, oneShot.Tick(500*time.Millisecond))
	_, frame = oneShot.Position()
	assert.Equal(t, 3, frame)
	assert.False(t, oneShot.Playing())
}

func TestSeek(t *testing.T) {
	m := newTestManager(t)
	p, _ := newAttachedPlayer(t, m)
	assert.ErrorIs(t, p.Seek(0, 4), ErrSeekOutOfRange)
	assert.ErrorIs(t, p.Seek(1, 0), ErrSeekOutOfRange)

	require.NoError(t, p.DoThreadedWork(0, 0))
	require.NoError(t, p.Seek(0, 3))
	seq, frame := p.Position()
	assert.Equal(t, 0, seq)
	assert.Equal(t, 3, frame)
	assert.Equal(t, 1, p.Stats().Staged, "frame 0 is within the looping prefetch window")

	require.NoError(t, p.Seek(0, 1))
	assert.Zero(t, p.Stats().Staged)
}

func TestRequestCulledReleasesStagedFrame(t *testing.T) {
	m := newTestManager(t)
	p, _ := newAttachedPlayer(t, m)
	require.NoError(t, p.DoThreadedWork(0, 1))

	p.RequestCulled(request(p, 0, 1))
	st := p.Stats()
	assert.Equal(t, int64(1), st.Culled)
	assert.Zero(t, st.Staged)
	assert.Zero(t, m.Stats().TotalContainerBytes)
}

func TestFreeUnusedMemoryAndDetach(t *testing.T) {
	m := newTestManager(t)
	p, _ := newAttachedPlayer(t, m)
	require.NoError(t, p.DoThreadedWork(0, 0))
	require.NoError(t, p.DoThreadedWork(0, 1))
	p.FreeUnusedMemory()
	assert.Zero(t, p.Stats().Staged)
	assert.Zero(t, m.Stats().TotalContainerBytes)

	require.NoError(t, p.DoThreadedWork(0, 0))
	h := p.Handle()
	p.Detach()
	assert.Equal(t, uuid.Nil, p.Handle())
	assert.Zero(t, m.Stats().TotalContainerBytes)
	assert.ErrorIs(t, m.AddUpdateRequest(h, 0, 0), holo_manager.ErrInvalidHandle)
	assert.ErrorIs(t, p.Attach(&testOwner{}), holo_mesh.ErrReleased)
	assert.NoError(t, p.DoThreadedWork(0, 2))
	assert.Zero(t, p.Stats().Staged)
}

func TestAttachTwice(t *testing.T) {
	m := newTestManager(t)
	p, _ := newAttachedPlayer(t, m)
	assert.ErrorIs(t, p.Attach(&testOwner{}), ErrAlreadyAttached)
}

func TestSelectLOD(t *testing.T) {
	opts := DefaultLODOptions()
	eye := [3]float32{}
	at := func(d float32) [3]float32 { return [3]float32{0, 0, d} }

	assert.Equal(t, 0, opts.selectLOD(eye, at(1), 1, 1))
	assert.Equal(t, 0, opts.selectLOD(eye, at(3), 1, 1))
	assert.Equal(t, 1, opts.selectLOD(eye, at(5), 1, 1))
	assert.Equal(t, 2, opts.selectLOD(eye, at(100), 1, 1))

	minimum := LODOptions{MinimumLOD: 1, ForceLOD: -1}.normalized()
	assert.Equal(t, 1, minimum.selectLOD(eye, at(1), 1, 1))

	forced := LODOptions{ForceLOD: 1}.normalized()
	assert.Equal(t, 1, forced.selectLOD(eye, at(100), 1, 1))
	forced.ForceLOD = 9
	assert.Equal(t, 2, forced.selectLOD(eye, at(1), 1, 1))
}

func TestComputeLODUsesOwnerPosition(t *testing.T) {
	m := newTestManager(t)
	p, _ := newAttachedPlayer(t, m)
	require.NoError(t, p.DoThreadedWork(0, 0))
	require.NoError(t, p.UpdateRenderThread(request(p, 0, 0)))

	assert.Equal(t, 0, p.ComputeLOD(testView{eye: [3]float32{0, 0, 2}}))
	assert.Equal(t, 2, p.ComputeLOD(testView{eye: [3]float32{0, 0, 500}}))
	assert.Greater(t, p.Bounds().SphereRadius(), float32(1))
}

func TestPackFrameWideIndices(t *testing.T) {
	const vc = 70000
	f := &decoder.Frame{
		Positions: make([]float32, 3*vc),
		Indices:   []uint32{0, 1, vc - 1},
	}
	f.Positions[3*(vc-1)] = 4

	buf := make([]byte, stagedSize(f))
	g := packFrame(buf, f)
	require.NoError(t, g.Validate())
	assert.True(t, g.Use32BitIndices)
	assert.Empty(t, g.Tangents)
	assert.Equal(t, uint32(vc-1), binary.LittleEndian.Uint32(g.Indices[8:]))
	assert.Equal(t, float32(4), math.Float32frombits(binary.LittleEndian.Uint32(g.Positions[12*(vc-1):])))
	assert.Equal(t, float32(2), g.Bounds.Origin[0])
}

func TestPackFrameTangents(t *testing.T) {
	f := &decoder.Frame{
		Positions: []float32{0, 0, 0, 1, 0, 0, 0, 0, 1},
		Normals:   []float32{0, 1, 0, 0, 1, 0, 0, 0, 1},
		Colors:    []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		TexCoords: [][]float32{{0, 0, 1, 0, 0, 1}},
		Indices:   []uint32{0, 1, 2},
	}
	buf := make([]byte, stagedSize(f))
	g := packFrame(buf, f)
	require.NoError(t, g.Validate())
	assert.False(t, g.Use32BitIndices)
	assert.Equal(t, []byte{0x81, 0, 0, 127, 0, 127, 0, 127}, g.Tangents[:8])
	assert.Equal(t, []byte{127, 0, 0, 127, 0, 0, 127, 127}, g.Tangents[16:24])
	assert.Equal(t, f.Colors, g.Colors)
}

// rateDecoder overrides the frame count and rate reported by a procedural decoder.
type rateDecoder struct {
	decoder.Decoder
	frames int
	fps    float64
}

func (d rateDecoder) FrameCount(int) int { return d.frames }
func (d rateDecoder) FrameRate() float64 { return d.fps }

func tickWithin(t *testing.T, p Player, dt time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Tick(dt) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Tick did not return")
	}
}

func TestUnusableFrameRateFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name string
		fps  float64
	}{
		{"zero", 0},
		{"negative", -5},
		{"nan", math.NaN()},
		{"infinite", math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			dec := rateDecoder{Decoder: decoder.NewProceduralDecoder(decoder.WithFrameCount(4)), frames: 4, fps: tt.fps}
			p := NewPlayer(m, dec, upload.NewHostUploader(), WithAutoPlay(true), WithPrefetch(0))
			require.NoError(t, p.Attach(&testOwner{}))

			tickWithin(t, p, 100*time.Millisecond)
			_, frame := p.Position()
			assert.Equal(t, 3, frame, "three frames of %v fps fit in 100ms", DefaultFrameRate)
		})
	}
}

func TestExtremeFrameRateDoesNotSpin(t *testing.T) {
	m := newTestManager(t)
	dec := rateDecoder{Decoder: decoder.NewProceduralDecoder(decoder.WithFrameCount(4)), frames: 4, fps: 1e12}
	p := NewPlayer(m, dec, upload.NewHostUploader(), WithAutoPlay(true), WithPrefetch(0))
	require.NoError(t, p.Attach(&testOwner{}))

	tickWithin(t, p, time.Second)
	_, frame := p.Position()
	assert.Equal(t, 0, frame, "1e9 one-nanosecond frames wrap back to the start")
	assert.True(t, p.Playing())
}

func TestEmptySequenceHoldsPlayhead(t *testing.T) {
	m := newTestManager(t)
	dec := rateDecoder{Decoder: decoder.NewProceduralDecoder(), frames: 0, fps: 30}
	p := NewPlayer(m, dec, upload.NewHostUploader(), WithAutoPlay(true), WithPrefetch(2))
	require.NoError(t, p.Attach(&testOwner{}))

	require.NotPanics(t, func() { tickWithin(t, p, time.Second) })
	seq, frame := p.Position()
	assert.Equal(t, 0, seq)
	assert.Equal(t, 0, frame)
	assert.Zero(t, m.Stats().InFlightWork, "nothing is decoded for an empty sequence")
	assert.ErrorIs(t, p.Seek(0, 0), ErrSeekOutOfRange)
}
