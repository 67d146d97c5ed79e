package oracle

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/chatbattery/internal/formula"
)

// fakeDomainAgent mimics the ChatBattery domain agent with arithmetic that
// is easy to check from Go.
const fakeDomainAgent = `
import time

class Domain_Agent:
    @staticmethod
    def calculate_theoretical_capacity(formula):
        if formula == "Boom1X":
            raise ValueError("cannot score")
        if formula == "Slow1X":
            time.sleep(0.3)
        return float(len(formula) * 10)

    @staticmethod
    def distance_function(a, b):
        return float(abs(len(a) - len(b)))

    @staticmethod
    def range_match(formula, ref):
        return formula.lower() == ref.lower()
`

func startBridge(t *testing.T) *PythonBridge {
	t.Helper()

	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake_domain.py"), []byte(fakeDomainAgent), 0644))

	b, err := NewPythonBridge(BridgeOptions{
		Module:  "fake_domain",
		Attr:    "Domain_Agent",
		WorkDir: dir,
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { b.Stop() })

	return b
}

func TestPythonBridge_StartStop(t *testing.T) {
	b := startBridge(t)
	assert.True(t, b.Running())

	require.NoError(t, b.Stop())
	assert.False(t, b.Running())

	_, err := b.Capacity(context.Background(), "NaMnO2")
	assert.Error(t, err)
}

func TestPythonBridge_Calls(t *testing.T) {
	b := startBridge(t)
	ctx := context.Background()

	t.Run("capacity", func(t *testing.T) {
		v, err := b.Capacity(ctx, "NaMnO2")
		require.NoError(t, err)
		assert.Equal(t, 60.0, v)
	})

	t.Run("capacity error is reported", func(t *testing.T) {
		_, err := b.Capacity(ctx, "Boom1X")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot score")

		// The bridge keeps serving after a domain error.
		v, err := b.Capacity(ctx, "NaCoO2")
		require.NoError(t, err)
		assert.Equal(t, 60.0, v)
	})

	t.Run("distance", func(t *testing.T) {
		v, err := b.Distance(ctx, "NaMnO2", "Na3V2(PO4)3")
		require.NoError(t, err)
		assert.Equal(t, 5.0, v)
	})

	t.Run("distances", func(t *testing.T) {
		vs, err := b.Distances(ctx, "NaMnO2", []formula.Formula{"NaCoO2", "Na2FePO4F", "Na1A"})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 3, 2}, vs)
	})

	t.Run("range match", func(t *testing.T) {
		ok, err := b.RangeMatch(ctx, "NAMNO2", []formula.Formula{"NaCoO2", "NaMnO2"})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.RangeMatch(ctx, "NaFePO4", []formula.Formula{"NaCoO2"})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPythonBridge_AbandonedCall(t *testing.T) {
	b := startBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Capacity(ctx, "Slow1X")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, b.Running())

	// The late reply to Slow1X is skipped, not returned for NaCoO2.
	v, err := b.Capacity(context.Background(), "NaCoO2")
	require.NoError(t, err)
	assert.Equal(t, 60.0, v)

	t.Run("cancelled before sending", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := b.Capacity(ctx, "NaCoO2")
		require.ErrorIs(t, err, context.Canceled)
		assert.True(t, b.Running())

		v, err := b.Capacity(context.Background(), "NaMnO2")
		require.NoError(t, err)
		assert.Equal(t, 60.0, v)
	})
}

func TestPythonBridge_StopRemovesScript(t *testing.T) {
	b := startBridge(t)
	dir := b.scriptDir
	require.NotEmpty(t, dir)
	assert.DirExists(t, dir)

	require.NoError(t, b.Stop())
	assert.NoDirExists(t, dir)

	// A restart extracts the script again.
	require.NoError(t, b.Start(context.Background()))
	assert.DirExists(t, b.scriptDir)
	v, err := b.Capacity(context.Background(), "NaCoO2")
	require.NoError(t, err)
	assert.Equal(t, 60.0, v)
}

func TestPythonBridge_ImportFailure(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	b, err := NewPythonBridge(BridgeOptions{
		Module:  "no_such_domain_module",
		WorkDir: t.TempDir(),
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)

	err = b.Start(context.Background())
	require.Error(t, err)
	assert.False(t, b.Running())
	assert.Empty(t, b.scriptDir)
}

func TestNewPythonBridge_RequiresModule(t *testing.T) {
	_, err := NewPythonBridge(BridgeOptions{})
	assert.Error(t, err)
}
