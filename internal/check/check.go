// Package check resolves every step of a flow against fetched copies of its
// pages, without a browser, and reports which targets would be found.
package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/jakopako/goguide/internal/fetch"
	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/page/htmldoc"
	"github.com/jakopako/goguide/internal/resolver"
	"github.com/jakopako/goguide/internal/utils"
	"github.com/olekukonko/tablewriter"
)

var ErrNoPage = errors.New("step has no page url")

// Result is the outcome for one step.
type Result struct {
	Step flow.Step
	// URL is the page the step was resolved on.
	URL   string
	Tier  resolver.Tier
	Err   error
	Hints []resolver.Candidate
}

func (r Result) OK() bool { return r.Err == nil }

// Checker resolves flows against fetched pages.
type Checker struct {
	Fetcher  fetch.Fetcher
	Resolver *resolver.Resolver
	// BaseURL is used for steps without url and to resolve relative ones.
	BaseURL string
}

// Check returns one result per step, in flow order. Only failures to fetch
// are returned as error.
func (c *Checker) Check(ctx context.Context, f *flow.Flow) ([]Result, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("component", "check"), slog.String("flow", f.ID))
	docs := map[string]*htmldoc.Document{}
	out := make([]Result, 0, len(f.Steps))
	for _, st := range f.Steps {
		res := Result{Step: st}
		u, err := c.pageURL(st.URL)
		if err != nil {
			res.Err = err
			out = append(out, res)
			continue
		}
		res.URL = u
		doc, ok := docs[u]
		if !ok {
			body, err := c.Fetcher.Fetch(ctx, u)
			if err != nil {
				return nil, fmt.Errorf("error while fetching %s: %w", u, err)
			}
			doc, err = htmldoc.NewFromString(u, body)
			if err != nil {
				return nil, fmt.Errorf("error while parsing %s: %w", u, err)
			}
			docs[u] = doc
			logger.Debug(fmt.Sprintf("loaded %s", u))
		}
		t, err := c.Resolver.Resolve(ctx, doc, st.Interaction)
		if err != nil {
			res.Err = err
			res.Hints = resolver.Diagnose(doc, st.Interaction, 3)
		} else {
			res.Tier = t.Tier
		}
		out = append(out, res)
	}
	return out, nil
}

func (c *Checker) pageURL(stepURL string) (string, error) {
	if stepURL == "" {
		if c.BaseURL == "" {
			return "", ErrNoPage
		}
		return c.BaseURL, nil
	}
	u, err := url.Parse(stepURL)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return stepURL, nil
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("%w: relative url %s without base url", ErrNoPage, stepURL)
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// Failed returns the number of results with an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}

// WriteTable renders results as a table.
func WriteTable(w io.Writer, results []Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Position", "Step", "Page", "Found by", "Hint")
	for _, r := range results {
		found := string(r.Tier)
		if !r.OK() {
			found = "NOT FOUND"
			if errors.Is(r.Err, ErrNoPage) {
				found = "NO PAGE"
			}
		}
		var hints []string
		for _, h := range r.Hints {
			hints = append(hints, fmt.Sprintf("<%s> %s", h.Tag, h.Text))
		}
		row := []string{
			strconv.Itoa(r.Step.Position),
			r.Step.ID,
			utils.ShortenString(r.URL, 50),
			found,
			strings.Join(hints, ", "),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
