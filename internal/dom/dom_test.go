package dom_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpulse/internal/dom"
)

const articleHTML = `<article data-testid="tweet">
  <div data-testid="tweetText" lang="en">Hello
     world</div>
  <a href="/someone/status/1"><time datetime="2024-01-02T03:04:05.000Z">Jan 2</time></a>
</article>`

func TestFragment_ReturnsContainer(t *testing.T) {
	t.Parallel()

	root, err := dom.Fragment(articleHTML)
	require.NoError(t, err)

	tag, err := root.TagName()
	require.NoError(t, err)
	assert.Equal(t, "article", tag)

	v, ok, err := root.Attr("data-testid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tweet", v)
}

func TestStatic_FindTextParent(t *testing.T) {
	t.Parallel()

	root, err := dom.Fragment(articleHTML)
	require.NoError(t, err)

	text, err := dom.First(root, `[data-testid="tweetText"]`)
	require.NoError(t, err)
	require.NotNil(t, text)

	s, err := text.Text()
	require.NoError(t, err)
	assert.Equal(t, "Hello world", s)

	tm, err := dom.First(root, "time")
	require.NoError(t, err)
	parent, err := tm.Parent()
	require.NoError(t, err)
	href, ok, err := parent.Attr("href")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/someone/status/1", href)

	missing, err := dom.First(root, "video")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIsStale(t *testing.T) {
	t.Parallel()

	assert.True(t, dom.IsStale(fmt.Errorf("read text: %w", dom.ErrStale)))
	assert.False(t, dom.IsStale(fmt.Errorf("other")))
}
