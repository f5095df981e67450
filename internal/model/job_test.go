package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gitmine/gitmine/internal/model"
)

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()
	require.False(t, model.StatusQueued.Terminal())
	require.False(t, model.StatusRunning.Terminal())
	require.True(t, model.StatusSucceeded.Terminal())
	require.True(t, model.StatusFailed.Terminal())
}

func TestNewJob(t *testing.T) {
	t.Parallel()
	job := model.NewJob("abc123", "pull-request-extractor",
		map[string]any{"org": "acme"}, "1234****5678", "/tmp/out/abc123")

	require.Equal(t, model.StatusQueued, job.Status)
	require.Equal(t, "Queued", job.Message)
	require.Zero(t, job.Progress)
	require.False(t, job.CreatedAt.IsZero())
	require.True(t, job.StartedAt.IsZero())
	require.True(t, job.EndedAt.IsZero())
}

func TestJobClone(t *testing.T) {
	t.Parallel()
	job := model.NewJob("abc123", "file-commit-history",
		map[string]any{"org": "acme"}, "", t.TempDir())
	job.Log = []string{"one", "two"}
	job.OutputFiles = []string{"result.csv"}

	clone := job.Clone()
	clone.Log[0] = "mutated"
	clone.OutputFiles[0] = "mutated.csv"
	clone.Params["org"] = "mutated"

	require.Equal(t, "one", job.Log[0])
	require.Equal(t, "result.csv", job.OutputFiles[0])
	require.Equal(t, "acme", job.Params["org"])
}
