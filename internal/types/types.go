package types

import (
	"sort"
	"strings"
	"time"
)

// Metric names one engagement counter.
type Metric string

const (
	MetricComment Metric = "comment"
	MetricReshare Metric = "reshare"
	MetricLike    Metric = "like"
	// MetricShare is bookmarks on X and generic shares on Facebook.
	MetricShare Metric = "share"
)

// Metrics lists every counter in output column order.
var Metrics = []Metric{MetricComment, MetricReshare, MetricLike, MetricShare}

// Counters holds the engagement counts of one post. Values are never negative.
type Counters struct {
	Comment int64 `json:"comments"`
	Reshare int64 `json:"reshares"`
	Like    int64 `json:"likes"`
	Share   int64 `json:"shares"`
}

// Get returns the value of one metric.
func (c Counters) Get(m Metric) int64 {
	switch m {
	case MetricComment:
		return c.Comment
	case MetricReshare:
		return c.Reshare
	case MetricLike:
		return c.Like
	case MetricShare:
		return c.Share
	}
	return 0
}

// Set assigns one metric, clamping negatives to zero.
func (c *Counters) Set(m Metric, v int64) {
	if v < 0 {
		v = 0
	}
	switch m {
	case MetricComment:
		c.Comment = v
	case MetricReshare:
		c.Reshare = v
	case MetricLike:
		c.Like = v
	case MetricShare:
		c.Share = v
	}
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// EngagementRecord is one extracted post.
type EngagementRecord struct {
	SourceAccount string    `json:"account"`
	Site          string    `json:"site"`
	Text          string    `json:"text"`
	PublishedAt   string    `json:"published_at,omitempty"`
	URL           string    `json:"url,omitempty"`
	HasMedia      bool      `json:"has_media"`
	Counters      Counters  `json:"counters"`
	Mentions      int       `json:"mentions"`
	Missing       []Metric  `json:"missing,omitempty"` // strict mode only
	ScrapedAt     time.Time `json:"scraped_at"`
}

// Emittable reports whether the record carries text or a URL.
func (r EngagementRecord) Emittable() bool {
	return strings.TrimSpace(r.Text) != "" || strings.TrimSpace(r.URL) != ""
}

// MissingString renders the missing metrics as a sorted "a;b" list.
func (r EngagementRecord) MissingString() string {
	if len(r.Missing) == 0 {
		return ""
	}
	names := make([]string, len(r.Missing))
	for i, m := range r.Missing {
		names[i] = string(m)
	}
	sort.Strings(names)
	return strings.Join(names, ";")
}

// Target is one profile page to collect.
type Target struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	// Site selects the extraction profile; empty means detect from URL.
	Site string `json:"site,omitempty"`
	// Keywords, when set, keep only posts whose text mentions one of them.
	Keywords []string `json:"keywords,omitempty"`
}

// Snapshot is the markup of every container collected from one page, kept
// so extraction can be replayed offline.
type Snapshot struct {
	Target     Target    `json:"target"`
	Site       string    `json:"site"`
	CapturedAt time.Time `json:"captured_at"`
	Containers []string  `json:"containers"`
}
