package session

import (
	"testing"

	"github.com/prappser/prappser_uploads/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(totalSize, chunkSize int64, arrived map[int]int64) *State {
	return &State{
		Info:    Info{SessionID: "s1", FileName: "f.bin", TotalSize: totalSize, ChunkSize: chunkSize},
		Arrived: arrived,
	}
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name    string
		state   *State
		want    bool
		wantErr error
	}{
		{
			name:  "all chunks with short last chunk",
			state: newState(10, 4, map[int]int64{1: 4, 2: 4, 3: 2}),
			want:  true,
		},
		{
			name:  "last chunk missing but legacy threshold already met",
			state: newState(10, 4, map[int]int64{1: 4, 2: 4}),
			want:  false,
		},
		{
			name:  "oversize final chunk as sent by resumable.js",
			state: newState(10, 4, map[int]int64{1: 4, 2: 6}),
			want:  true,
		},
		{
			name:  "single chunk file",
			state: newState(3, 4, map[int]int64{1: 3}),
			want:  true,
		},
		{
			name:  "gap at chunk 3",
			state: newState(16, 4, map[int]int64{1: 4, 2: 4, 4: 4}),
			want:  false,
		},
		{
			name:  "oversized middle chunk balanced by a short last chunk",
			state: newState(250, 100, map[int]int64{1: 200, 2: 50}),
			want:  false,
		},
		{
			name:  "short middle chunk",
			state: newState(10, 4, map[int]int64{1: 2, 2: 4, 3: 4}),
			want:  false,
		},
		{
			name:  "nothing arrived",
			state: newState(16, 4, map[int]int64{}),
			want:  false,
		},
		{
			name:  "empty file",
			state: newState(0, 4, map[int]int64{}),
			want:  true,
		},
		{
			name:    "zero chunk size",
			state:   newState(16, 0, map[int]int64{1: 16}),
			wantErr: apperror.ErrInvalidIdentifier,
		},
		{
			name:    "negative chunk size",
			state:   newState(0, -1, map[int]int64{}),
			wantErr: apperror.ErrInvalidIdentifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsComplete(tt.state)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsComplete_ShouldWaitForMissingChunkThenComplete(t *testing.T) {
	// given chunks 1, 2 and 4 of a four chunk file
	state := newState(16, 4, map[int]int64{1: 4, 2: 4, 4: 4})

	// when
	before, err := IsComplete(state)
	require.NoError(t, err)
	state.Arrived[3] = 4
	after, err := IsComplete(state)
	require.NoError(t, err)

	// then
	assert.False(t, before)
	assert.True(t, after)
}

func TestMaxChunkIndex(t *testing.T) {
	assert.Equal(t, 1, MaxChunkIndex(0, 4))
	assert.Equal(t, 1, MaxChunkIndex(4, 4))
	assert.Equal(t, 3, MaxChunkIndex(10, 4))
	assert.Equal(t, 4, MaxChunkIndex(16, 4))
	assert.Equal(t, 1, MaxChunkIndex(16, 0))
}

func TestMaxChunkIndex_ShouldNotOverflowNearMaxInt64(t *testing.T) {
	const maxInt64 = int64(^uint64(0) >> 1)

	assert.Equal(t, 2, MaxChunkIndex(maxInt64, maxInt64-1))
	assert.Equal(t, 1, MaxChunkIndex(maxInt64, maxInt64))
	assert.Positive(t, MaxChunkIndex(maxInt64-1, 1<<40))
}

func TestFullChunks(t *testing.T) {
	assert.Equal(t, int64(2), FullChunks(10, 4))
	assert.Equal(t, int64(2), FullChunks(250, 100))
	assert.Equal(t, int64(0), FullChunks(3, 4))
	assert.Equal(t, int64(0), FullChunks(0, 4))
	assert.Equal(t, int64(0), FullChunks(10, 0))
}
