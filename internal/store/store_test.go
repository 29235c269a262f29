package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpulse/internal/types"
)

func sampleRecords() []types.EngagementRecord {
	at := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	return []types.EngagementRecord{
		{
			SourceAccount: "acme", Site: "x", Text: "hello @you", URL: "https://x.com/acme/status/1",
			PublishedAt: "2024-05-01T10:00:00.000Z", HasMedia: true, Mentions: 1,
			Counters: types.Counters{Comment: 1, Reshare: 2, Like: 3, Share: 4}, ScrapedAt: at,
		},
		{
			SourceAccount: "KFC México", Site: "facebook", Text: "sin enlace",
			Counters: types.Counters{Like: 1200}, Missing: []types.Metric{types.MetricShare, types.MetricComment},
			ScrapedAt: at,
		},
	}
}

func TestStore_SaveRunAndReadBack(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "nested", "records.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	started := time.Date(2024, 5, 2, 11, 0, 0, 0, time.UTC)

	runID, err := s.SaveRun(ctx, started, sampleRecords())
	require.NoError(t, err)
	assert.Len(t, runID, 36)

	got, err := s.RunRecords(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "acme", got[0].SourceAccount)
	assert.Equal(t, types.Counters{Comment: 1, Reshare: 2, Like: 3, Share: 4}, got[0].Counters)
	assert.True(t, got[0].HasMedia)
	assert.True(t, got[0].ScrapedAt.Equal(sampleRecords()[0].ScrapedAt))
	assert.Empty(t, got[0].Missing)

	assert.Equal(t, "KFC México", got[1].SourceAccount)
	assert.Empty(t, got[1].URL)
	assert.Equal(t, []types.Metric{types.MetricComment, types.MetricShare}, got[1].Missing)

	second, err := s.SaveRun(ctx, started.Add(time.Hour), sampleRecords()[:1])
	require.NoError(t, err)
	assert.NotEqual(t, runID, second)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, 1, runs[0].RecordCount)
	assert.Equal(t, 2, runs[1].RecordCount)
}

func TestSnapshots_SaveAndLoadDir(t *testing.T) {
	dir := t.TempDir()
	s := NewSnapshots(dir)
	at := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	first := types.Snapshot{
		Target:     types.Target{Name: "KFC México", URL: "https://www.facebook.com/KFCMexico"},
		Site:       "facebook",
		CapturedAt: at,
		Containers: []string{`<div role="article">one</div>`},
	}
	second := first
	second.Containers = []string{`<div role="article">two</div>`}
	third := types.Snapshot{
		Target:     types.Target{Name: "acme", URL: "https://x.com/acme"},
		Site:       "x",
		CapturedAt: at.Add(time.Minute),
		Containers: []string{`<article>three</article>`},
	}

	p1, err := s.SaveSnapshot(first)
	require.NoError(t, err)
	p2, err := s.SaveSnapshot(second)
	require.NoError(t, err)
	p3, err := s.SaveSnapshot(third)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-02T12-00-00_kfc-méxico.json", filepath.Base(p1))
	assert.Equal(t, "2024-05-02T12-00-00_kfc-méxico-2.json", filepath.Base(p2))
	assert.Equal(t, "2024-05-02T12-01-00_acme.json", filepath.Base(p3))

	snaps, err := LoadDir(context.Background(), dir, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, first.Containers, snaps[0].Containers)
	assert.Equal(t, second.Containers, snaps[1].Containers)
	assert.Equal(t, "acme", snaps[2].Target.Name)
	assert.True(t, snaps[2].CapturedAt.Equal(third.CapturedAt))
}

func TestLoadDir_Errors(t *testing.T) {
	_, err := LoadDir(context.Background(), filepath.Join(t.TempDir(), "missing"), 1)
	require.Error(t, err)

	dir := t.TempDir()
	_, err = LoadDir(context.Background(), dir, 1)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644))
	_, err = LoadDir(context.Background(), dir, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "kfc-méxico", slug("KFC México"))
	assert.Equal(t, "a-b", slug("  a // b  "))
	assert.Equal(t, "page", slug("!!!"))
}
