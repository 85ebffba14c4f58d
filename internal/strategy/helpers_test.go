package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/farreach/jobingest/internal/fetch"
)

// fakeFetcher serves canned HTML per URL without touching the network.
type fakeFetcher struct {
	pages        map[string]string
	sessionPages []string
	fetched      []string
	sessionCalls int
	pauses       int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, opts fetch.Options) (*fetch.Document, error) {
	f.fetched = append(f.fetched, rawURL)
	html, ok := f.pages[rawURL]
	if !ok {
		return nil, fmt.Errorf("fetch %s: not found", rawURL)
	}
	return fetch.NewDocument(rawURL, html, opts.Render)
}

func (f *fakeFetcher) FetchPages(_ context.Context, rawURL, _ string, _ fetch.Options, maxPages int) ([]*fetch.Document, error) {
	f.sessionCalls++
	var docs []*fetch.Document
	for _, html := range f.sessionPages {
		if len(docs) == maxPages {
			break
		}
		doc, err := fetch.NewDocument(rawURL, html, true)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (f *fakeFetcher) Pause(context.Context, string) error {
	f.pauses++
	return nil
}

func testDeps(fetcher PageFetcher) Deps {
	return Deps{
		Fetcher:         fetcher,
		DefaultMaxPages: 10,
		Logger:          zap.NewNop(),
	}
}
