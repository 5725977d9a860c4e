package portpool_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ais-netlab/chaos/portpool"
)

func TestLeaseLIFOAndDrain(t *testing.T) {
	p := portpool.New(8000, 8001)

	port1, ok := p.Lease(time.Minute)
	require.True(t, ok)
	require.Equal(t, 8001, port1, "pool pops LIFO")

	port2, ok := p.Lease(time.Minute)
	require.True(t, ok)
	require.Equal(t, 8000, port2)

	_, ok = p.Lease(time.Minute)
	require.False(t, ok, "a drained pool must report ok=false rather than block")
}

func TestAutoReturn(t *testing.T) {
	p := portpool.New(9000, 9000)
	_, ok := p.Lease(20 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, 0, p.Available())

	require.Eventually(t, func() bool {
		return p.Available() == 1
	}, time.Second, 5*time.Millisecond)
}
