package samples

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Fetcher downloads the bundled sample images. Like every other ingestion
// surface it normalizes its input to a list of raw image byte handles.
type Fetcher struct {
	urls   []string
	client *http.Client
	logger *zap.Logger
}

func NewFetcher(urls []string, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		urls:   urls,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.Named("samples"),
	}
}

// Fetch downloads every configured sample. Failures are per-item: a sample
// that cannot be fetched is skipped, the rest still load.
func (f *Fetcher) Fetch(ctx context.Context) [][]byte {
	assets := make([][]byte, 0, len(f.urls))
	for _, url := range f.urls {
		data, err := f.download(ctx, url)
		if err != nil {
			f.logger.Warn("failed to fetch sample", zap.String("url", url), zap.Error(err))
			continue
		}
		assets = append(assets, data)
	}
	return assets
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
