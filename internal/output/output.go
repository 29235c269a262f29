// Package output writes the records of a run as a flat table.
package output

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ibeckermayer/postpulse/internal/store"
	"github.com/ibeckermayer/postpulse/internal/types"
)

// Format is an output file format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatSQLite Format = "sqlite"
)

// ErrNoRecords is returned when there is nothing to write; no file is created.
var ErrNoRecords = errors.New("no records to write")

// ParseFormat validates a format name; empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatSQLite:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want csv, json or sqlite)", s)
	}
}

// Columns is the fixed CSV header. MissingColumn is appended in strict mode.
var Columns = []string{
	"account", "site", "text", "published_at", "url",
	"comments", "reshares", "likes", "shares", "has_media", "mentions",
}

const MissingColumn = "missing"

// Options controls a write.
type Options struct {
	Format Format
	// Strict adds the missing column.
	Strict    bool
	StartedAt time.Time
}

// Result describes what was written.
type Result struct {
	Path  string
	Count int
	// RunID is set for SQLite output.
	RunID string
}

// Write stores records at path in the requested format.
func Write(ctx context.Context, path string, records []types.EngagementRecord, opts Options) (Result, error) {
	if len(records) == 0 {
		return Result{}, ErrNoRecords
	}
	res := Result{Path: path, Count: len(records)}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return res, fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	switch opts.Format {
	case FormatSQLite:
		s, err := store.New(path)
		if err != nil {
			return res, err
		}
		defer s.Close()
		started := opts.StartedAt
		if started.IsZero() {
			started = time.Now()
		}
		res.RunID, err = s.SaveRun(ctx, started, records)
		return res, err
	case FormatJSON, FormatCSV, "":
	default:
		return res, fmt.Errorf("unknown output format %q", opts.Format)
	}

	f, err := os.Create(path)
	if err != nil {
		return res, fmt.Errorf("failed to create output file: %w", err)
	}
	if opts.Format == FormatJSON {
		err = WriteJSON(f, records)
	} else {
		err = WriteCSV(f, records, opts.Strict)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return res, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return res, nil
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []types.EngagementRecord, strict bool) error {
	cw := csv.NewWriter(w)

	header := Columns
	if strict {
		header = append(append([]string(nil), Columns...), MissingColumn)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{
			r.SourceAccount,
			r.Site,
			r.Text,
			r.PublishedAt,
			r.URL,
			strconv.FormatInt(r.Counters.Comment, 10),
			strconv.FormatInt(r.Counters.Reshare, 10),
			strconv.FormatInt(r.Counters.Like, 10),
			strconv.FormatInt(r.Counters.Share, 10),
			strconv.FormatBool(r.HasMedia),
			strconv.Itoa(r.Mentions),
		}
		if strict {
			row = append(row, r.MissingString())
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []types.EngagementRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(records)
}
