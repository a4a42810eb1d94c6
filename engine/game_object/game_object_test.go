package game_object

import (
	"context"
	"testing"

	"github.com/Carmen-Shannon/oxy-holo/engine/decoder"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_player"
	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) holo_manager.Manager {
	t.Helper()
	m := holo_manager.NewManager()
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(m.Shutdown)
	return m
}

func newPlayer(m holo_manager.Manager) holo_player.Player {
	dec := decoder.NewProceduralDecoder(decoder.WithGridSize(2), decoder.WithFrameCount(2))
	return holo_player.NewPlayer(m, dec, upload.NewHostUploader())
}

func TestGameObject_Defaults(t *testing.T) {
	obj := NewGameObject(WithID(7), WithName("actor"), WithPosition(1, 2, 3))

	assert.Equal(t, uint64(7), obj.ID())
	assert.Equal(t, "actor", obj.Name())
	assert.Equal(t, [3]float32{1, 2, 3}, obj.Position())
	sx, sy, sz := obj.Scale()
	assert.Equal(t, [3]float32{1, 1, 1}, [3]float32{sx, sy, sz})
	assert.True(t, obj.Valid())
	assert.False(t, obj.Hidden())
	assert.False(t, obj.Editor())
	assert.Nil(t, obj.Player())
}

func TestGameObject_Mutators(t *testing.T) {
	obj := NewGameObject(WithHidden(true))
	assert.True(t, obj.Hidden())

	obj.SetHidden(false)
	obj.SetPosition(4, 5, 6)
	obj.SetScale(2, 2, 2)

	assert.False(t, obj.Hidden())
	assert.Equal(t, [3]float32{4, 5, 6}, obj.Position())
	sx, _, _ := obj.Scale()
	assert.Equal(t, float32(2), sx)
}

func TestGameObject_AttachRegistersOwner(t *testing.T) {
	m := newManager(t)
	obj := NewGameObject(WithName("stage-left"), WithEditor(true))
	p := newPlayer(m)

	require.NoError(t, obj.AttachPlayer(p))
	assert.Same(t, p, obj.Player())
	assert.NotEqual(t, uuid.Nil, p.Handle())

	infos := m.Instances()
	require.Len(t, infos, 1)
	assert.Equal(t, "stage-left", infos[0].Name)
	assert.True(t, infos[0].Editor)

	assert.ErrorIs(t, obj.AttachPlayer(newPlayer(m)), ErrHasPlayer)
}

func TestGameObject_DestroyDetaches(t *testing.T) {
	m := newManager(t)
	obj := NewGameObject(WithName("actor"))
	require.NoError(t, obj.AttachPlayer(newPlayer(m)))
	require.Len(t, m.Instances(), 1)

	obj.Destroy()
	obj.Destroy()

	assert.False(t, obj.Valid())
	assert.Nil(t, obj.Player())
	assert.Empty(t, m.Instances())
	assert.ErrorIs(t, obj.AttachPlayer(newPlayer(m)), ErrDestroyed)
}
