package fal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"echoes/internal/infra"
	"echoes/internal/queue"
)

// DefaultStorageURL is the Fal storage endpoint that accepts raw file uploads.
const DefaultStorageURL = "https://fal.ai/api/storage/upload/file"

// StorageOptions configures the Fal storage uploader.
type StorageOptions struct {
	UploadURL  string
	HTTPClient *http.Client
	Logger     *infra.Logger
	// MaxBytes caps the decoded size of a single upload.
	MaxBytes int64
}

// Storage uploads inline data URIs to Fal storage so queue models can fetch
// them by URL.
type Storage struct {
	uploadURL  string
	httpClient *http.Client
	logger     *infra.Logger
	maxBytes   int64
}

func NewStorage(opts StorageOptions) *Storage {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	uploadURL := strings.TrimSpace(opts.UploadURL)
	if uploadURL == "" {
		uploadURL = DefaultStorageURL
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &Storage{
		uploadURL:  uploadURL,
		httpClient: httpClient,
		logger:     logger,
		maxBytes:   maxBytes,
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload posts the decoded content of dataURI and returns the hosted URL.
func (s *Storage) Upload(ctx context.Context, apiKey, dataURI string) (string, error) {
	data, contentType, err := decodeDataURI(dataURI)
	if err != nil {
		return "", queue.InvalidInput("%v", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", queue.InvalidInput("inline file is %d bytes, limit is %d", len(data), s.maxBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("fal: build upload request: %w", err)
	}
	name, value := queue.KeyAuthHeader(apiKey)
	req.Header.Set(name, value)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &queue.Error{Kind: queue.ErrSubmissionFailed, Op: "prepare", Detail: "storage upload", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &queue.Error{Kind: queue.ErrSubmissionFailed, Op: "prepare", Detail: "read storage response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &queue.Error{Kind: queue.ErrInvalidCredential, Op: "prepare", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &queue.Error{Kind: queue.ErrSubmissionFailed, Op: "prepare", StatusCode: resp.StatusCode, Detail: "storage upload failed: " + strings.TrimSpace(string(body))}
	}

	var decoded uploadResponse
	if err := json.Unmarshal(body, &decoded); err != nil || strings.TrimSpace(decoded.URL) == "" {
		return "", &queue.Error{Kind: queue.ErrProtocolViolation, Op: "prepare", StatusCode: resp.StatusCode, Detail: "storage response has no url", Err: err}
	}

	s.logger.Debug().
		Str("content_type", contentType).
		Int("bytes", len(data)).
		Msg("fal: uploaded inline file")
	return decoded.URL, nil
}

// IsDataURI reports whether v is an inline "data:" URI.
func IsDataURI(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), "data:")
}

// decodeDataURI parses "data:[<mediatype>][;base64],<data>".
func decodeDataURI(v string) ([]byte, string, error) {
	v = strings.TrimSpace(v)
	if !IsDataURI(v) {
		return nil, "", fmt.Errorf("not a data uri")
	}
	meta, payload, ok := strings.Cut(v[len("data:"):], ",")
	if !ok {
		return nil, "", fmt.Errorf("data uri has no payload")
	}
	isBase64 := false
	params := strings.Split(meta, ";")
	contentType := strings.TrimSpace(params[0])
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if contentType == "" {
		contentType = "text/plain"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return nil, "", fmt.Errorf("data uri payload is not valid base64")
			}
		}
		return data, contentType, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("data uri payload is not valid percent-encoding")
	}
	return []byte(text), contentType, nil
}
