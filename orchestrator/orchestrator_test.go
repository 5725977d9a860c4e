package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ais-netlab/chaos/orchestrator"
)

// writeLabFixture lays down a minimal two-router lab directory in the
// AS_config.txt/routers/links format topo.LoadLab expects.
func writeLabFixture(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AS_config.txt"), []byte("as1 routers.txt links.txt\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "routers.txt"), []byte(
		"r1 router 10.0.0.1\n"+
			"r2 router 10.0.0.2\n"+
			"h1 host 10.0.1.1\n"+
			"h2 host 10.0.1.2\n",
	), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "links.txt"), []byte(
		"r1 r2 10mbit 10ms 50ms\n",
	), 0o644))
	return dir
}

// TestStartupThenShutdownCompletesPromptly is an S-style end-to-end
// smoke test: startup should load the fixture, spawn every producer
// plus the undo scheduler, and shutdown should join all of them and
// attempt to reset every link within the test's 5s window. The container
// runtime is a real cgw.ExecGateway whose binary is "true", so every call
// exits 0 with no output: routing calls succeed with empty configs and
// every shaping call fails to resolve an egress interface. The scenario
// still proves the startup/shutdown sequence never blocks or panics when
// the external collaborator gives no useful answers.
func TestStartupThenShutdownCompletesPromptly(t *testing.T) {
	dir := writeLabFixture(t)

	state, err := orchestrator.Startup(context.Background(), orchestrator.Config{
		LabDir:       dir,
		ContainerBin: "true", // a binary guaranteed to exist and exit 0 with no useful output
		Seed:         42,
		Rates:        orchestrator.Rates{Traffic: 0, Loss: 0, Delay: 0},
		PortRangeLo:  20000,
		PortRangeHi:  20004,
	})
	require.NoError(t, err)
	require.NotNil(t, state.Server.Mux())

	done := make(chan struct{})
	go func() {
		_ = state.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete within the test's patience window")
	}
}
