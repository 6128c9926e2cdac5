package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/wikigraph/pkg/config"
	"github.com/orneryd/wikigraph/pkg/storage"
)

const recorded = `{"wiki":"en","user":"Alice","title":"A","timestamp":1709294400}
{"wiki":"en","user":"Alice","title":"B","timestamp":1709294401}
{"wiki":"en","user":"Bob","title":"A","timestamp":1709294402}
{"wiki":"en","title":"missing user"}
{"wiki":"en","user":"Carol","title":"X","timestamp":1709295300}
`

var t0 = time.Unix(1709294400, 0).UTC()

func TestReplay(t *testing.T) {
	report, err := replay(context.Background(), strings.NewReader(recorded), replayOptions{
		Config: config.DefaultConfig(),
		Logger: zerolog.Nop(),
		Seed:   1,
		View:   storage.ViewBipartite,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Events)
	assert.Equal(t, 1, report.Rejected)
	assert.True(t, t0.Equal(report.Start))
	assert.True(t, t0.Add(15*time.Minute).Equal(report.End))

	// Sweeps every 30s up to and including the 15 minute mark. The first
	// three events fall out of the 10 minute window at the 10m30s sweep.
	assert.Equal(t, 30, report.Sweeps)
	assert.Equal(t, 5, report.EvictedNodes)
	assert.Equal(t, 4, report.EvictedEdges)

	assert.Equal(t, 3, report.Summary.Nodes)
	require.NotNil(t, report.MLData)
	assert.Equal(t, 3, report.MLData.NodeCount)
	require.NotNil(t, report.Snapshot)
	require.Len(t, report.Snapshot.Edges, 1)
	assert.Equal(t, storage.EdgeID("editor:Carol|article:X"), report.Snapshot.Edges[0].ID)
}

func TestReplayWithoutTimestamps(t *testing.T) {
	input := `{"wiki":"en","user":"Alice","title":"A"}
{"wiki":"en","user":"Alice","title":"B"}
`
	report, err := replay(context.Background(), strings.NewReader(input), replayOptions{
		Config: config.DefaultConfig(),
		Logger: zerolog.Nop(),
		Seed:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Events)
	assert.Zero(t, report.Sweeps)
	assert.Equal(t, time.Unix(0, 0).UTC(), report.Start)
	assert.Equal(t, report.Start, report.End)
	assert.Nil(t, report.Snapshot)
	require.NotNil(t, report.MLData)
	assert.Equal(t, 4, report.MLData.NodeCount)
}

func TestReplayEmpty(t *testing.T) {
	report, err := replay(context.Background(), strings.NewReader("\n"), replayOptions{
		Config: config.DefaultConfig(),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Zero(t, report.Events)
	assert.Nil(t, report.MLData, "size guard skips an empty graph")
}

func TestReplayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := replay(ctx, strings.NewReader(recorded), replayOptions{
		Config: config.DefaultConfig(),
		Logger: zerolog.Nop(),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "wikigraph v0.1.0 (dev)\n", out)
}

func TestReplayCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(recorded), 0644))

	out, err := execute(t, "replay", "--view", "coedit", path)
	require.NoError(t, err)

	var report struct {
		Events   int `json:"events"`
		Rejected int `json:"rejected"`
		Snapshot struct {
			View string `json:"view"`
		} `json:"snapshot"`
		MLData map[string]interface{} `json:"mldata"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 4, report.Events)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, "coedit", report.Snapshot.View)
	assert.NotEmpty(t, report.MLData)

	_, err = execute(t, "replay", "--view", "social", path)
	assert.ErrorIs(t, err, storage.ErrInvalidView)

	_, err = execute(t, "replay", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "wikigraph.yaml")

	out, err := execute(t, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	_, err = execute(t, "init", path)
	assert.Error(t, err, "refuses to overwrite")

	_, err = execute(t, "init", "--force", path)
	assert.NoError(t, err)
}
