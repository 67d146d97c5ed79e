package decision

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
	"github.com/rand/chatbattery/internal/oracle"
)

// parsingAgent rejects the kind of token the extractor lets through.
const parsingAgent = `
class Agent:
    @staticmethod
    def calculate_theoretical_capacity(formula):
        if formula == "ISO9001":
            raise ValueError("cannot parse " + formula)
        return float(len(formula) * 10)

    @staticmethod
    def distance_function(a, b):
        return float(abs(len(a) - len(b)))
`

func startParsingBridge(t *testing.T) *oracle.PythonBridge {
	t.Helper()

	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parsing_agent.py"), []byte(parsingAgent), 0644))

	b, err := oracle.NewPythonBridge(oracle.BridgeOptions{
		Module:  "parsing_agent",
		Attr:    "Agent",
		WorkDir: dir,
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Stop() })
	return b
}

func TestDecideMany_UnscorableCandidateKeepsBridge(t *testing.T) {
	b := startParsingBridge(t)
	e := NewEngine(b, Config{Workers: 4})
	ctx := context.Background()
	cands := []formula.Formula{"ISO9001", "NaMn0.9Ti0.1O2", "NaCoO2", "Na2FeP2O7"}

	for range 3 {
		_, err := e.DecideMany(ctx, "NaMnO2", cands)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot parse ISO9001")
		require.True(t, b.Running())
	}

	ds, errs, err := e.DecideEach(ctx, "NaMnO2", cands)
	require.NoError(t, err)
	require.Error(t, errs[0])
	assert.False(t, ds[0].Valid)
	assert.Equal(t, formula.Formula("ISO9001"), ds[0].Candidate)
	for i := 1; i < len(cands); i++ {
		assert.NoError(t, errs[i], cands[i])
	}
	assert.True(t, ds[1].Valid)
	assert.False(t, ds[2].Valid)
	assert.Equal(t, 90.0, ds[3].CandidateValue)

	v, err := b.Capacity(ctx, "NaCoO2")
	require.NoError(t, err)
	assert.Equal(t, 60.0, v)
}
