package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearspan/lcaflow/internal/model"
)

type fakeProc struct{ id string }

func (f fakeProc) ID() string { return f.id }
func (f fakeProc) Extract(ctx context.Context, meta *model.FileMetadata, data []byte) (*model.NormalizedOutput, error) {
	return &model.NormalizedOutput{Procedure: f.id}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeProc{id: ProcTabular}))
	require.NoError(t, r.Register(fakeProc{id: ProcVision}))

	p, ok := r.Get(ProcTabular)
	require.True(t, ok)
	assert.Equal(t, ProcTabular, p.ID())

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
	assert.True(t, r.Has(ProcVision))
	assert.False(t, r.Has(ProcMindmap))
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeProc{id: ProcGeneric}))
	assert.Error(t, r.Register(fakeProc{id: ProcGeneric}))
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeProc{id: ProcVision}))
	require.NoError(t, r.Register(fakeProc{id: ProcGeneric}))
	require.NoError(t, r.Register(fakeProc{id: ProcMindmap}))
	assert.Equal(t, []string{ProcGeneric, ProcMindmap, ProcVision}, r.IDs())
}
