// Package builtin provides ready-made tools: the current time, page text
// extraction and link collection.
package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/GCYYfun/MengLong-sub001/tool"
)

// Options configures the network tools.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	// Timeout bounds one page request.
	Timeout time.Duration
	// MaxChars truncates extracted page text.
	MaxChars int
	// Now is the clock used by current_time.
	Now func() time.Time
}

// Toolkit holds the configured tools.
type Toolkit struct {
	opts Options
}

// New creates a Toolkit.
func New(optFns ...func(o *Options)) *Toolkit {
	opts := Options{
		HTTPClient: http.DefaultClient,
		UserAgent:  "menglong/1.0",
		Timeout:    15 * time.Second,
		MaxChars:   8000,
		Now:        time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Toolkit{opts: opts}
}

// Register adds current_time, fetch_page and collect_links to reg.
func Register(reg *tool.Registry, optFns ...func(o *Options)) error {
	return New(optFns...).Register(reg)
}

// Register adds the toolkit's tools to reg.
func (k *Toolkit) Register(reg *tool.Registry) error {
	if _, err := reg.Register(k.CurrentTime,
		tool.WithName("current_time"),
		tool.WithDescription("Returns the current date and time, optionally in an IANA time zone."),
	); err != nil {
		return err
	}
	if _, err := reg.Register(k.FetchPage,
		tool.WithName("fetch_page"),
		tool.WithDescription("Downloads a web page and returns its title and readable text."),
		tool.WithAsync(),
	); err != nil {
		return err
	}
	if _, err := reg.Register(k.CollectLinks,
		tool.WithName("collect_links"),
		tool.WithDescription("Lists the links found on a web page."),
	); err != nil {
		return err
	}
	return nil
}

type CurrentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" description:"IANA time zone such as Asia/Shanghai; defaults to UTC"`
}

type CurrentTime struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
	Unix     int64  `json:"unix"`
}

// CurrentTime reports the current time.
func (k *Toolkit) CurrentTime(args CurrentTimeArgs) (CurrentTime, error) {
	tz := args.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return CurrentTime{}, tool.NewToolError("current_time", fmt.Sprintf("unknown time zone %q", tz), tool.CodeValidationError)
	}
	now := k.opts.Now().In(loc)
	return CurrentTime{
		Time:     now.Format(time.RFC3339),
		Timezone: loc.String(),
		Weekday:  now.Weekday().String(),
		Unix:     now.Unix(),
	}, nil
}

type FetchPageArgs struct {
	URL      string `json:"url" description:"Absolute http(s) URL" validate:"url"`
	Selector string `json:"selector,omitempty" description:"CSS selector limiting the extracted text"`
}

type Page struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

// FetchPage downloads a page and extracts its text with goquery.
func (k *Toolkit) FetchPage(ctx context.Context, args FetchPageArgs) (Page, error) {
	if err := checkURL(args.URL); err != nil {
		return Page{}, tool.NewToolError("fetch_page", err.Error(), tool.CodeValidationError)
	}

	ctx, cancel := context.WithTimeout(ctx, k.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", k.opts.UserAgent)

	resp, err := k.opts.HTTPClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", args.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch %s: status %d", args.URL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", args.URL, err)
	}
	doc.Find("script, style, noscript").Remove()

	sel := doc.Find("body")
	if args.Selector != "" {
		sel = doc.Find(args.Selector)
	}

	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := collapseSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})

	page := Page{
		URL:   args.URL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  strings.Join(parts, "\n"),
	}
	if k.opts.MaxChars > 0 {
		if r := []rune(page.Text); len(r) > k.opts.MaxChars {
			page.Text = string(r[:k.opts.MaxChars])
			page.Truncated = true
		}
	}
	return page, nil
}

type CollectLinksArgs struct {
	URL        string `json:"url" description:"Absolute http(s) URL" validate:"url"`
	SameDomain bool   `json:"same_domain,omitempty" description:"Only keep links to the page's own host"`
	Limit      int    `json:"limit,omitempty" default:"50" description:"Maximum number of links" validate:"gte=1,lte=500"`
}

type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// CollectLinks visits a page with colly and returns its unique links in
// document order.
func (k *Toolkit) CollectLinks(args CollectLinksArgs) ([]Link, error) {
	if err := checkURL(args.URL); err != nil {
		return nil, tool.NewToolError("collect_links", err.Error(), tool.CodeValidationError)
	}
	base, _ := url.Parse(args.URL)
	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}

	c := colly.NewCollector(colly.UserAgent(k.opts.UserAgent), colly.MaxDepth(1))
	client := *k.opts.HTTPClient
	client.Timeout = k.opts.Timeout
	c.SetClient(&client)

	var (
		links   []Link
		seen    = make(map[string]bool)
		visitEr error
	)
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(links) >= limit {
			return
		}
		abs := e.Request.AbsoluteURL(e.Attr("href"))
		if abs == "" || seen[abs] {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		if args.SameDomain && u.Host != base.Host {
			return
		}
		seen[abs] = true
		links = append(links, Link{Text: collapseSpace(e.Text), URL: abs})
	})
	c.OnError(func(r *colly.Response, err error) {
		visitEr = fmt.Errorf("collect %s: status %d: %w", args.URL, r.StatusCode, err)
	})

	if err := c.Visit(args.URL); err != nil && visitEr == nil {
		visitEr = fmt.Errorf("collect %s: %w", args.URL, err)
	}
	if visitEr != nil {
		return nil, visitEr
	}
	return links, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: expected an absolute http(s) URL", raw)
	}
	return nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
