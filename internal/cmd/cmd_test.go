package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/chatbattery/internal/decision"
	"github.com/rand/chatbattery/internal/formula"
	"github.com/rand/chatbattery/internal/session"
)

const reply = `Assistant: Here are five optimized formulations:
* NaMn0.9Ti0.1O2: titanium stabilizes the layers.
* NaFePO4 - a known olivine.
* NaMn0.8Mg0.2O2, with magnesium.
- NaMn0.5Zn0.5O2 is not a bullet.
`

func TestExtractCommand(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("reply.txt", []byte(reply), 0644))

	t.Run("file", func(t *testing.T) {
		out, err := execute(t, "", "extract", "reply.txt")
		require.NoError(t, err)
		assert.Equal(t, "NaMn0.9Ti0.1O2\nNaFePO4\nNaMn0.8Mg0.2O2\n", out)
	})

	t.Run("stdin with exclusions", func(t *testing.T) {
		out, err := execute(t, reply, "extract", "-", "--exclude", "NaFePO4,NaMn0.8Mg0.2O2")
		require.NoError(t, err)
		assert.Equal(t, "NaMn0.9Ti0.1O2\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, reply, "extract", "--json")
		require.NoError(t, err)

		var got []string
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, []string{"NaMn0.9Ti0.1O2", "NaFePO4", "NaMn0.8Mg0.2O2"}, got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "", "extract", "nope.txt")
		assert.Error(t, err)
	})
}

func TestReferenceCommands(t *testing.T) {
	isolate(t)
	csv := "id,formula,capacity\n1,NaFePO4,120\n2,Na2FeP2O7,97\n3,NaFePO4,120\n"
	require.NoError(t, os.WriteFile("refs.csv", []byte(csv), 0644))
	db := filepath.Join("data", "refs.db")

	out, err := execute(t, "", "reference", "import", "refs.csv", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 formulas")

	t.Run("stats", func(t *testing.T) {
		out, err := execute(t, "", "reference", "stats", db, "--json")
		require.NoError(t, err)

		var stats struct {
			Formulas   int `json:"formulas"`
			LastImport struct {
				Source string `json:"source"`
				Count  int    `json:"count"`
			} `json:"last_import"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &stats))
		assert.Equal(t, 2, stats.Formulas)
		assert.Equal(t, "refs.csv", stats.LastImport.Source)
		assert.Equal(t, 2, stats.LastImport.Count)
	})

	t.Run("stats csv", func(t *testing.T) {
		out, err := execute(t, "", "reference", "stats", "refs.csv")
		require.NoError(t, err)
		assert.Contains(t, out, "Formulas:  2")
		assert.NotContains(t, out, "Imported:")
	})

	t.Run("export jsonl", func(t *testing.T) {
		out, err := execute(t, "", "reference", "export", db, "--format", "jsonl")
		require.NoError(t, err)
		assert.Equal(t, "{\"formula\":\"NaFePO4\"}\n{\"formula\":\"Na2FeP2O7\"}\n", out)
	})

	t.Run("export json to file", func(t *testing.T) {
		_, err := execute(t, "", "reference", "export", db, "-o", "out.json")
		require.NoError(t, err)

		data, err := os.ReadFile("out.json")
		require.NoError(t, err)
		var export struct {
			Formulas []string `json:"formulas"`
		}
		require.NoError(t, json.Unmarshal(data, &export))
		assert.Equal(t, []string{"NaFePO4", "Na2FeP2O7"}, export.Formulas)
	})

	t.Run("export unknown format", func(t *testing.T) {
		_, err := execute(t, "", "reference", "export", db, "--format", "xml")
		assert.Error(t, err)
	})
}

func TestRequiredFlags(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "run")
	assert.ErrorContains(t, err, "--input is required")

	_, err = execute(t, "", "decide", "NaMnO2")
	assert.ErrorContains(t, err, "--input is required")

	_, err = execute(t, "", "repair", "--input", "NaMnO2")
	assert.ErrorContains(t, err, "--failed are required")
}

func TestPromptConfirm(t *testing.T) {
	proposed := []formula.Formula{"NaMn0.9Ti0.1O2", "NaMn0.8Mg0.2O2"}

	t.Run("replacement list", func(t *testing.T) {
		var shown bytes.Buffer
		confirm := promptConfirm(strings.NewReader("NaMn0.7Ca0.3O2\n* NaMn0.9Ti0.1O2\n\nignored\n"), &shown)

		got, err := confirm(context.Background(), proposed)
		require.NoError(t, err)
		assert.Equal(t, []formula.Formula{"NaMn0.7Ca0.3O2", "NaMn0.9Ti0.1O2"}, got)
		assert.Contains(t, shown.String(), "* NaMn0.8Mg0.2O2")
	})

	t.Run("blank accepts", func(t *testing.T) {
		confirm := promptConfirm(strings.NewReader("\n"), &bytes.Buffer{})
		got, err := confirm(context.Background(), proposed)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("reads successive rounds", func(t *testing.T) {
		confirm := promptConfirm(strings.NewReader("A1B2\n\nC3D4\n"), &bytes.Buffer{})
		first, err := confirm(context.Background(), proposed)
		require.NoError(t, err)
		second, err := confirm(context.Background(), proposed)
		require.NoError(t, err)
		assert.Equal(t, []formula.Formula{"A1B2"}, first)
		assert.Equal(t, []formula.Formula{"C3D4"}, second)
	})
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, session.Result{
		SessionID: "abc",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		State:     session.Complete,
		Complete:  true,
		Valid:     []formula.Formula{"NaMn0.9Ti0.1O2"},
		Stats:     session.Stats{Rounds: 2, GeneratorCalls: 3, RepairsFound: 1, Unscored: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "Session abc: complete")
	assert.Contains(t, out, "Started:         2026-03-01T12:00:00Z")
	assert.Contains(t, out, "Unscored:        1")
	assert.Contains(t, out, "Generator calls: 3")
	assert.Contains(t, out, "1 found, 0 missed")
	assert.Contains(t, out, "* NaMn0.9Ti0.1O2")

	buf.Reset()
	printSummary(&buf, session.Result{SessionID: "def", State: session.NeedsRevision})
	assert.Contains(t, buf.String(), "stopped at round cap (needs_revision)")
	assert.Contains(t, buf.String(), "No valid formulas.")
	assert.NotContains(t, buf.String(), "Started:")
	assert.NotContains(t, buf.String(), "Unscored:")
}

func TestPrintDecisions(t *testing.T) {
	var buf bytes.Buffer
	printDecisions(&buf, []decision.Decision{
		{Input: "NaMnO2", Candidate: "NaMn0.9Ti0.1O2", InputValue: 100, CandidateValue: 120, Valid: true},
		{Input: "NaMnO2", Candidate: "NaMn0.8Mg0.2O2", InputValue: 100, CandidateValue: 80},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Input NaMnO2: 100.000", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "120.000  valid"))
	assert.True(t, strings.HasSuffix(lines[2], "80.000  invalid"))

	buf.Reset()
	printDecisions(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestColorEnabled(t *testing.T) {
	assert.False(t, colorEnabled(&bytes.Buffer{}))

	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, colorEnabled(f), "regular files are not terminals")
}
