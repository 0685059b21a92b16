package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEvictsOldest(t *testing.T) {
	m := NewMemory(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Store(fmt.Sprintf("step %d", i)))
	}
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"step 2", "step 3", "step 4"}, m.GetAllMessages())
}

func TestMemoryLast(t *testing.T) {
	m := NewMemory(10)
	assert.Nil(t, m.Last(2))

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, m.Store(s))
	}
	assert.Equal(t, []string{"b", "c"}, m.Last(2))
	assert.Equal(t, []string{"a", "b", "c"}, m.Last(10))
	assert.Nil(t, m.Last(0))

	last := m.Last(1)
	last[0] = "changed"
	assert.Equal(t, []string{"c"}, m.Last(1))
}

func TestMemoryClear(t *testing.T) {
	m := NewMemory(2)
	require.NoError(t, m.Store("a"))
	m.Clear()
	assert.Zero(t, m.Len())
	assert.Empty(t, m.GetAllMessages())
}

func TestMemoryConcurrentStore(t *testing.T) {
	m := NewMemory(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = m.Store(fmt.Sprintf("%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}
