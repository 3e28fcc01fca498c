package binary

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLazy_ComputesOnce(t *testing.T) {
	var calls atomic.Int32
	cell := NewLazy(func() []int {
		calls.Add(1)
		return []int{1, 2, 3}
	})

	assert.False(t, cell.Computed())

	var wg sync.WaitGroup
	results := make([][]int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cell.Get()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, cell.Computed())
	for _, r := range results {
		assert.Equal(t, []int{1, 2, 3}, r)
	}
}

func TestDebugFileType_String(t *testing.T) {
	assert.Equal(t, "FromDwo", FromDwo.String())
	assert.Equal(t, "FromDebuglinkPointingToItself", FromDebuglinkSelf.String())
	assert.Equal(t, "DebugFileType(42)", DebugFileType(42).String())
	assert.True(t, DebugOnlyFileStripped.IsDebugOnly())
	assert.False(t, DebugIncluded.IsDebugOnly())

	text, err := NoDebug.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "NoDebug", string(text))
	assert.Equal(t, "Mach-O", FormatMachO.String())
}
