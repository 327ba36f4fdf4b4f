package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/tool"
)

const pageHTML = `<html>
<head><title> Release notes </title><style>body{}</style></head>
<body>
  <script>var x = 1;</script>
  <h1>Version 2</h1>
  <div class="notes"><p>Faster   tool
  dispatch.</p></div>
  <a href="/docs">Docs</a>
  <a href="/docs">Docs again</a>
  <a href="https://other.example/page">Elsewhere</a>
  <a href="mailto:team@example.com">Mail</a>
</body>
</html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, pageHTML)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegister(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, Register(reg))

	assert.Equal(t, []string{"current_time", "fetch_page", "collect_links"}, reg.Names())

	fetch, ok := reg.Get("fetch_page")
	require.True(t, ok)
	assert.True(t, fetch.Async)
	require.Len(t, fetch.Parameters, 2)
	assert.Equal(t, "url", fetch.Parameters[0].Name)
	assert.True(t, fetch.Parameters[0].Required)
	assert.False(t, fetch.Parameters[1].Required)

	links, ok := reg.Get("collect_links")
	require.True(t, ok)
	assert.False(t, links.Async)
	assert.Equal(t, int64(50), links.Parameters[2].Default)
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	k := New(func(o *Options) { o.Now = func() time.Time { return fixed } })

	got, err := k.CurrentTime(CurrentTimeArgs{})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01T12:00:00Z", got.Time)
	assert.Equal(t, "UTC", got.Timezone)
	assert.Equal(t, "Saturday", got.Weekday)
	assert.Equal(t, fixed.Unix(), got.Unix)

	_, err = k.CurrentTime(CurrentTimeArgs{Timezone: "Mars/Olympus"})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeValidationError, toolErr.Code)
}

func TestFetchPage(t *testing.T) {
	srv := newServer(t)
	k := New()

	page, err := k.FetchPage(context.Background(), FetchPageArgs{URL: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, "Release notes", page.Title)
	assert.Contains(t, page.Text, "Version 2 Faster tool dispatch.")
	assert.NotContains(t, page.Text, "var x")
	assert.False(t, page.Truncated)

	page, err = k.FetchPage(context.Background(), FetchPageArgs{URL: srv.URL + "/", Selector: ".notes"})
	require.NoError(t, err)
	assert.Equal(t, "Faster tool dispatch.", page.Text)
}

func TestFetchPage_Truncates(t *testing.T) {
	srv := newServer(t)
	k := New(func(o *Options) { o.MaxChars = 7 })

	page, err := k.FetchPage(context.Background(), FetchPageArgs{URL: srv.URL + "/", Selector: "h1"})
	require.NoError(t, err)
	assert.Equal(t, "Version", page.Text)
	assert.True(t, page.Truncated)
}

func TestFetchPage_Errors(t *testing.T) {
	srv := newServer(t)
	k := New()

	_, err := k.FetchPage(context.Background(), FetchPageArgs{URL: srv.URL + "/missing"})
	assert.ErrorContains(t, err, "status 404")

	_, err = k.FetchPage(context.Background(), FetchPageArgs{URL: "ftp://example.com"})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeValidationError, toolErr.Code)
}

func TestCollectLinks(t *testing.T) {
	srv := newServer(t)
	k := New()

	links, err := k.CollectLinks(CollectLinksArgs{URL: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, []Link{
		{Text: "Docs", URL: srv.URL + "/docs"},
		{Text: "Elsewhere", URL: "https://other.example/page"},
	}, links)

	links, err = k.CollectLinks(CollectLinksArgs{URL: srv.URL + "/", SameDomain: true})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, srv.URL+"/docs", links[0].URL)

	links, err = k.CollectLinks(CollectLinksArgs{URL: srv.URL + "/", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestCollectLinks_NotFound(t *testing.T) {
	srv := newServer(t)
	_, err := New().CollectLinks(CollectLinksArgs{URL: srv.URL + "/missing"})
	assert.ErrorContains(t, err, "status 404")
}

func TestDispatchThroughRegistry(t *testing.T) {
	srv := newServer(t)
	reg := tool.NewRegistry()
	require.NoError(t, Register(reg))
	d := tool.NewDispatcher(reg)

	results := d.InvokeAll(context.Background(), []tool.Call{
		{ID: "1", Name: "fetch_page", Arguments: map[string]any{"url": srv.URL + "/", "selector": "h1"}},
		{ID: "2", Name: "collect_links", Arguments: map[string]any{"url": srv.URL + "/", "limit": 1}},
		{ID: "3", Name: "collect_links", Arguments: map[string]any{"url": "not a url"}},
		{ID: "4", Name: "collect_links", Arguments: map[string]any{"url": srv.URL, "limit": 0}},
	})
	require.Len(t, results, 4)

	require.True(t, results[0].Success, results[0].Error)
	assert.Equal(t, "Version 2", results[0].Value.(Page).Text)

	require.True(t, results[1].Success, results[1].Error)
	assert.Len(t, results[1].Value.([]Link), 1)

	assert.False(t, results[2].Success)
	assert.Equal(t, tool.CodeValidationError, results[2].Code)

	assert.False(t, results[3].Success)
	assert.Equal(t, tool.CodeValidationError, results[3].Code)
	assert.True(t, strings.HasPrefix(results[3].Message().Content, "Error: "))
	assert.Equal(t, core.RoleTool, results[3].Message().Role)
}
