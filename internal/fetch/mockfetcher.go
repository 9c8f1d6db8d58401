package fetch

import (
	"context"
	"fmt"
)

// MockFetcher serves the pages listed in the configuration.
type MockFetcher struct {
	*FetcherConfig
	pagesMap map[string]string
}

func NewMockFetcher(fc *FetcherConfig) *MockFetcher {
	mf := &MockFetcher{
		FetcherConfig: fc,
		pagesMap:      map[string]string{},
	}
	for _, p := range fc.MockPages {
		mf.pagesMap[p.Url] = p.Content
	}
	return mf
}

func (m *MockFetcher) Fetch(ctx context.Context, urlStr string) (string, error) {
	if p, ok := m.pagesMap[urlStr]; ok {
		return p, nil
	}
	return "", fmt.Errorf("page not found: %s", urlStr)
}

// To comply with the Fetcher interface
func (m *MockFetcher) Cancel() {}
