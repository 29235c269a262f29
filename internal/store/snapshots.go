package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/postpulse/internal/types"
)

// Snapshots saves and loads container snapshots as JSON files in a directory.
type Snapshots struct {
	dir string
	now func() time.Time
}

// NewSnapshots returns a snapshot cache rooted at dir.
func NewSnapshots(dir string) *Snapshots {
	return &Snapshots{dir: dir, now: time.Now}
}

// Dir returns the cache directory.
func (s *Snapshots) Dir() string {
	return s.dir
}

// generateFilename creates a timestamped filename for an account.
func generateFilename(t time.Time, account string) string {
	return t.Format("2006-01-02T15-04-05") + "_" + slug(account) + ".json"
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "page"
	}
	return out
}

// SaveSnapshot writes snap to a new file and returns its path.
func (s *Snapshots) SaveSnapshot(snap types.Snapshot) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	at := snap.CapturedAt
	if at.IsZero() {
		at = s.now()
	}
	name := generateFilename(at, snap.Target.Name)
	path := filepath.Join(s.dir, name)
	for i := 2; fileExists(path); i++ {
		path = filepath.Join(s.dir, fmt.Sprintf("%s-%d.json", strings.TrimSuffix(name, ".json"), i))
	}

	if err := saveJSON(path, snap); err != nil {
		return "", err
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func saveJSON[T any](path string, data T) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func loadJSON[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal snapshot %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// LoadSnapshot reads one snapshot file.
func LoadSnapshot(path string) (types.Snapshot, error) {
	return loadJSON[types.Snapshot](path)
}

// Files lists the snapshot files of dir in name order, which is capture
// order for files written by SaveSnapshot.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no snapshots in %s", dir)
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no snapshots in %s", dir)
	}
	return files, nil
}

// LoadDir reads every snapshot in dir, using up to workers concurrent
// readers. The result keeps file order.
func LoadDir(ctx context.Context, dir string, workers int) ([]types.Snapshot, error) {
	files, err := Files(dir)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 4
	}

	snaps := make([]types.Snapshot, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := LoadSnapshot(path)
			if err != nil {
				return err
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snaps, nil
}
