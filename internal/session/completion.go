package session

import (
	"fmt"

	"github.com/prappser/prappser_uploads/internal/apperror"
)

// IsComplete reports whether every chunk of the session has arrived.
//
// Besides the chunk-count threshold n*chunkSize >= totalSize-chunkSize+1, the
// arrived indices must be exactly 1..n, every chunk below n must be exactly
// chunkSize long and all lengths must add up to totalSize. The last chunk may
// be shorter than chunkSize or, as Resumable.js sends it by default, up to one
// byte short of twice chunkSize.
func IsComplete(state *State) (bool, error) {
	if state.ChunkSize <= 0 {
		return false, fmt.Errorf("%w: chunk size %d", apperror.ErrInvalidIdentifier, state.ChunkSize)
	}
	if state.TotalSize < 0 {
		return false, fmt.Errorf("%w: total size %d", apperror.ErrInvalidIdentifier, state.TotalSize)
	}
	if state.TotalSize == 0 {
		return true, nil
	}

	n := int64(len(state.Arrived))
	if n*state.ChunkSize < state.TotalSize-state.ChunkSize+1 {
		return false, nil
	}

	var total int64
	for index := 1; int64(index) <= n; index++ {
		size, ok := state.Arrived[index]
		if !ok {
			return false, nil
		}
		if int64(index) < n && size != state.ChunkSize {
			return false, nil
		}
		total += size
	}

	return total == state.TotalSize, nil
}

// MaxChunkIndex is the highest index a session may use.
func MaxChunkIndex(totalSize, chunkSize int64) int {
	if chunkSize <= 0 || totalSize <= chunkSize {
		return 1
	}
	count := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		count++
	}
	return int(count)
}

// FullChunks is the number of leading chunks that must be exactly chunkSize
// long. Only the chunk after them may differ.
func FullChunks(totalSize, chunkSize int64) int64 {
	if chunkSize <= 0 || totalSize <= 0 {
		return 0
	}
	return totalSize / chunkSize
}
