// Package report renders a per-run engagement summary as HTML and plain text.
package report

import (
	"bytes"
	"cmp"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ibeckermayer/postpulse/internal/types"
)

// DefaultTopPosts is used when no top-post count is configured.
const DefaultTopPosts = 10

// Builder creates reports from collected records
type Builder struct {
	topPosts int
	template *template.Template
}

// New creates a new report builder
func New(topPosts int) (*Builder, error) {
	tmpl, err := template.New("report").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if topPosts <= 0 {
		topPosts = DefaultTopPosts
	}

	return &Builder{
		topPosts: topPosts,
		template: tmpl,
	}, nil
}

// Report is a rendered run summary
type Report struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	CreatedAt time.Time
}

// Data is the template data structure
type Data struct {
	Title    string
	Date     string
	Accounts []AccountData
	Posts    []PostData
	Total    int
}

// AccountData sums the counters of one account.
type AccountData struct {
	Account  string
	Site     string
	Posts    int
	Comments int64
	Reshares int64
	Likes    int64
	Shares   int64
}

// PostData represents a post in the report template
type PostData struct {
	Account    string
	Text       string
	Comments   int64
	Reshares   int64
	Likes      int64
	Shares     int64
	Engagement int64
	URL        string
}

// Engagement is the sum of every counter.
func Engagement(c types.Counters) int64 {
	return c.Comment + c.Reshare + c.Like + c.Share
}

// Build summarizes records: per-account totals in first-seen order, then the
// most engaged posts.
func (b *Builder) Build(records []types.EngagementRecord, now time.Time) (*Report, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to include in report")
	}

	data := Data{
		Title: "Engagement report",
		Date:  now.Format("Monday, January 2 2006 15:04"),
		Total: len(records),
	}

	index := make(map[string]int)
	for _, r := range records {
		i, ok := index[r.SourceAccount]
		if !ok {
			i = len(data.Accounts)
			index[r.SourceAccount] = i
			data.Accounts = append(data.Accounts, AccountData{Account: r.SourceAccount, Site: r.Site})
		}
		a := &data.Accounts[i]
		a.Posts++
		a.Comments += r.Counters.Comment
		a.Reshares += r.Counters.Reshare
		a.Likes += r.Counters.Like
		a.Shares += r.Counters.Share
	}

	posts := make([]PostData, len(records))
	for i, r := range records {
		posts[i] = PostData{
			Account:    r.SourceAccount,
			Text:       truncate(r.Text, 140),
			Comments:   r.Counters.Comment,
			Reshares:   r.Counters.Reshare,
			Likes:      r.Counters.Like,
			Shares:     r.Counters.Share,
			Engagement: Engagement(r.Counters),
			URL:        r.URL,
		}
	}
	slices.SortStableFunc(posts, func(x, y PostData) int {
		return cmp.Compare(y.Engagement, x.Engagement)
	})
	if len(posts) > b.topPosts {
		posts = posts[:b.topPosts]
	}
	data.Posts = posts

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Report{
		Subject:   fmt.Sprintf("Engagement report - %d posts, %s", len(records), now.Format("Jan 2")),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		CreatedAt: now,
	}, nil
}

// WriteHTML saves the HTML body to path.
func (r *Report) WriteHTML(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(r.HTMLBody), 0644)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func buildPlainText(data Data) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n%s\n\n", data.Title, data.Date)

	for _, a := range data.Accounts {
		fmt.Fprintf(&buf, "%s (%s): %d posts, %d likes, %d comments, %d reshares, %d shares\n",
			a.Account, a.Site, a.Posts, a.Likes, a.Comments, a.Reshares, a.Shares)
	}
	buf.WriteString("\nTop posts\n")
	for i, p := range data.Posts {
		fmt.Fprintf(&buf, "%d. %s: %s (%d)\n", i+1, p.Account, p.Text, p.Engagement)
		if p.URL != "" {
			fmt.Fprintf(&buf, "   %s\n", p.URL)
		}
	}

	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 720px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #1d4ed8; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 20px; }
        table { width: 100%; border-collapse: collapse; margin-bottom: 20px; font-size: 14px; }
        th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #eee; }
        td.n { text-align: right; }
        .post { border-bottom: 1px solid #eee; padding: 12px 0; }
        .post:last-child { border-bottom: none; }
        .account { font-weight: bold; color: #333; }
        .content { margin: 8px 0; line-height: 1.4; }
        .metrics { color: #666; font-size: 13px; }
        .link { color: #1d4ed8; text-decoration: none; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>

        <table>
            <tr><th>Account</th><th>Site</th><th>Posts</th><th>Likes</th><th>Comments</th><th>Reshares</th><th>Shares</th></tr>
            {{range .Accounts}}
            <tr><td>{{.Account}}</td><td>{{.Site}}</td><td class="n">{{.Posts}}</td><td class="n">{{.Likes}}</td><td class="n">{{.Comments}}</td><td class="n">{{.Reshares}}</td><td class="n">{{.Shares}}</td></tr>
            {{end}}
        </table>

        {{range .Posts}}
        <div class="post">
            <div class="account">{{.Account}}</div>
            <div class="content">{{.Text}}</div>
            <div class="metrics">{{.Likes}} likes · {{.Comments}} comments · {{.Reshares}} reshares · {{.Shares}} shares</div>
            {{if .URL}}<a href="{{.URL}}" class="link">View post →</a>{{end}}
        </div>
        {{end}}

        <div class="footer">
            {{.Total}} posts collected · Generated by postpulse
        </div>
    </div>
</body>
</html>`
