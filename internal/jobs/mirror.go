package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"echoes/internal/infra"
	"echoes/internal/queue"
	"echoes/internal/storage"
)

// Mirror copies completed artifacts into local storage, since provider URLs
// expire.
type Mirror struct {
	store      *storage.FileStore
	httpClient *http.Client
	maxBytes   int64
	logger     *infra.Logger
}

// MirrorOptions configures a Mirror.
type MirrorOptions struct {
	HTTPClient *http.Client
	// MaxBytes bounds a single artifact download.
	MaxBytes int64
	Logger   *infra.Logger
}

func NewMirror(store *storage.FileStore, opts MirrorOptions) *Mirror {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Mirror{store: store, httpClient: httpClient, maxBytes: maxBytes, logger: logger}
}

// Store downloads every artifact URL to jobs/<jobID>/<name><ext> and returns
// the storage key per artifact name. Keys of successful downloads are
// returned even when others fail.
func (m *Mirror) Store(ctx context.Context, jobID string, a queue.Artifact) (map[string]string, error) {
	urls := a.URLs()
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)

	keys := make(map[string]string, len(names))
	var errs []error
	for _, name := range names {
		key := path.Join("jobs", jobID, name+extensionOf(urls[name]))
		stored, n, err := m.download(ctx, urls[name], key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		keys[name] = stored
		m.logger.Debug().
			Str("job_id", jobID).
			Str("artifact", name).
			Str("key", stored).
			Int64("bytes", n).
			Msg("artifact mirrored")
	}
	return keys, errors.Join(errs...)
}

func (m *Mirror) download(ctx context.Context, rawURL, key string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	return m.store.WriteStream(ctx, key, resp.Body, m.maxBytes)
}

func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".bin"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) < 2 || len(ext) > 6 {
		return ".bin"
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".bin"
		}
	}
	return ext
}
