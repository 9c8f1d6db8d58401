// Package fetch loads the html of the pages a flow visits so that its steps
// can be resolved offline.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/utils"
)

// FetcherType encapsulates the type of a fetcher.
type FetcherType string

const (
	STATIC_FETCHER_TYPE  FetcherType = "static"
	DYNAMIC_FETCHER_TYPE FetcherType = "dynamic"
	MOCK_FETCHER_TYPE    FetcherType = "mock"
)

// MockPage is a canned page served by the mock fetcher.
type MockPage struct {
	Url     string `yaml:"url"`
	Content string `yaml:"content"`
}

type FetcherConfig struct {
	Type      FetcherType `yaml:"type" env:"GOGUIDE_FETCHER_TYPE" env-default:"static"`
	UserAgent string      `yaml:"user_agent" env:"GOGUIDE_FETCHER_USER_AGENT" env-default:"goguide"`
	// PageLoadWaitMS is how long the dynamic fetcher lets scripts run.
	PageLoadWaitMS int        `yaml:"page_load_wait_ms" env-default:"2000"`
	DebugDir       string     `yaml:"debug_dir" env-default:"."`
	MockPages      []MockPage `yaml:"mock_pages"`
}

// A Fetcher returns the html of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Cancel()
}

func NewFetcher(fc *FetcherConfig) (Fetcher, error) {
	switch fc.Type {
	case STATIC_FETCHER_TYPE, "":
		return NewStaticFetcher(fc), nil
	case DYNAMIC_FETCHER_TYPE:
		return NewDynamicFetcher(fc), nil
	case MOCK_FETCHER_TYPE:
		return NewMockFetcher(fc), nil
	default:
		return nil, fmt.Errorf("fetcher of type '%s' not implemented", fc.Type)
	}
}

// writeHTMLToFile keeps a copy of a fetched page in debug mode.
func writeHTMLToFile(ctx context.Context, urlStr, body, dir string) {
	logger := log.LoggerFromContext(ctx)
	host := "page"
	if u, err := url.Parse(urlStr); err == nil && u.Host != "" {
		host = u.Host
	}
	name, err := utils.RandomString(host)
	if err != nil {
		logger.Warn(fmt.Sprintf("failed to name debug file: %v", err))
		return
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		logger.Warn(fmt.Sprintf("failed to create debug directory: %v", err))
		return
	}
	filename := filepath.Join(dir, name+".html")
	logger.Debug(fmt.Sprintf("writing html to file %s", filename), slog.String("url", urlStr))
	if err := os.WriteFile(filename, []byte(body), 0644); err != nil {
		logger.Warn(fmt.Sprintf("failed to write debug file: %v", err))
	}
}
