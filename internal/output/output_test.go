package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpulse/internal/store"
	"github.com/ibeckermayer/postpulse/internal/types"
)

var records = []types.EngagementRecord{
	{
		SourceAccount: "acme", Site: "x", Text: "hello, \"world\"", URL: "https://x.com/acme/status/1",
		PublishedAt: "2024-05-01T10:00:00.000Z", HasMedia: true, Mentions: 0,
		Counters:  types.Counters{Comment: 12, Reshare: 1200, Like: 10500, Share: 3},
		ScrapedAt: time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
	},
	{
		SourceAccount: "KFC México", Site: "facebook", Text: "línea\ncon <b>",
		Counters: types.Counters{Like: 1200}, Mentions: 2,
		Missing: []types.Metric{types.MetricShare, types.MetricComment, types.MetricReshare},
	},
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatCSV, "CSV": FormatCSV, "json": FormatJSON, " sqlite ": FormatSQLite} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records, false))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{
		"acme", "x", "hello, \"world\"", "2024-05-01T10:00:00.000Z", "https://x.com/acme/status/1",
		"12", "1200", "10500", "3", "true", "0",
	}, rows[1])
	assert.Equal(t, "línea\ncon <b>", rows[2][2])
}

func TestWriteCSV_StrictAddsMissingColumn(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records, true))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, MissingColumn, rows[0][len(rows[0])-1])
	assert.Equal(t, "", rows[1][len(rows[1])-1])
	assert.Equal(t, "comment;reshare;share", rows[2][len(rows[2])-1])
}

func TestWrite_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.json")

	res, err := Write(context.Background(), path, records, Options{Format: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<b>")

	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "acme", got[0]["account"])
	assert.Equal(t, map[string]any{"comments": 12.0, "reshares": 1200.0, "likes": 10500.0, "shares": 3.0}, got[0]["counters"])
}

func TestWrite_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	res, err := Write(context.Background(), path, records, Options{Format: FormatSQLite})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	s, err := store.New(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.RunRecords(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10500), got[0].Counters.Like)
}

func TestWrite_NothingWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")

	_, err := Write(context.Background(), path, nil, Options{})
	require.ErrorIs(t, err, ErrNoRecords)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
