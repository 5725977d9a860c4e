package linklock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ais-netlab/chaos/linklock"
)

func TestTryInUseExcludesSecondCaller(t *testing.T) {
	tbl := linklock.NewTable()
	const id = 42

	require.True(t, tbl.TryInUse(id))
	require.False(t, tbl.TryInUse(id), "a second in_use acquisition must fail while the first is held")

	tbl.ReleaseInUse(id)
	require.True(t, tbl.TryInUse(id), "in_use must be acquirable again after release")
}

func TestModifySerializesConcurrentWriters(t *testing.T) {
	tbl := linklock.NewTable()
	const id = 7

	var mu sync.Mutex
	var order []int
	inside, maxInside := 0, 0
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tbl.WithModify(id, func() error {
				mu.Lock()
				order = append(order, i)
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Len(t, order, 5)
	require.Equal(t, 1, maxInside, "modify must admit one writer at a time")
}

func TestDistinctLinksAreIndependentlyLocked(t *testing.T) {
	tbl := linklock.NewTable()
	require.True(t, tbl.TryInUse(1))
	require.True(t, tbl.TryInUse(2), "distinct directed links must not contend")
}
