package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRemove(t *testing.T) {
	r := New[int]()

	require.True(t, r.Add("b", 2))
	require.True(t, r.Add("a", 1))
	assert.False(t, r.Add("a", 99), "ids are unique")

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, []string{"a", "b"}, r.IDs())
	assert.Equal(t, 2, r.Len())

	v, ok = r.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Remove("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, r.IDs())
}

func TestSnapshotIsDetached(t *testing.T) {
	r := New[string]()
	r.Add("a", "x")

	snap := r.Snapshot()
	r.Remove("a")
	r.Add("b", "y")

	assert.Equal(t, []string{"x"}, snap)
}

func TestConcurrentAccess(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Add(id, i)
			_ = r.IDs()
			_ = r.Snapshot()
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
}
