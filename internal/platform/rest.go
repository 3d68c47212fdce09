package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"garminsync/internal/auth"
	"garminsync/internal/config"

	"go.uber.org/zap"
)

// RESTClient implements Client against one region's HTTP API
type RESTClient struct {
	region  config.Region
	session *auth.Session
	http    *http.Client
	fileExt string
	logger  *zap.Logger
	now     func() time.Time
}

// NewRESTClient creates a client for one region using an established session
func NewRESTClient(region config.Region, sess *auth.Session, timeout time.Duration, fileExt string, logger *zap.Logger) *RESTClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if fileExt == "" {
		fileExt = ".fit"
	}
	return &RESTClient{
		region:  region,
		session: sess,
		http:    &http.Client{Timeout: timeout},
		fileExt: fileExt,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *RESTClient) endpointURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.region.BaseURL, "/") + path
}

func (c *RESTClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}

	if c.session != nil {
		if c.session.CookieHeader != "" {
			req.Header.Set("Cookie", c.session.CookieHeader)
		}
		if c.session.CSRFToken != "" {
			req.Header.Set("connect-csrf-token", c.session.CSRFToken)
		}
		if c.session.UserAgent != "" {
			req.Header.Set("User-Agent", c.session.UserAgent)
		}
	}
	for k, v := range c.region.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// ListActivities fetches recent activity metadata. The configured page-size
// parameter is raised to at least minPageSize so the newest-first cut never
// runs on a short page.
func (c *RESTClient) ListActivities(ctx context.Context, minPageSize int) ([]map[string]any, error) {
	u, err := url.Parse(c.endpointURL(c.region.Endpoints.ListActivities))
	if err != nil {
		return nil, &FetchError{Op: "list", Err: err}
	}

	q := u.Query()
	for k, v := range c.region.ListParams {
		q.Set(k, v)
	}
	sizeParam := c.region.PageSizeParam
	if sizeParam == "" {
		sizeParam = "limit"
	}
	if cur, _ := strconv.Atoi(q.Get(sizeParam)); cur < minPageSize {
		q.Set(sizeParam, strconv.Itoa(minPageSize))
	}
	u.RawQuery = q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Op: "list", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("listing activities", zap.String("url", u.String()))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "list", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: "list", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Op: "list", Err: fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body))}
	}
	if looksLikeHTML(resp.Header.Get("Content-Type"), body) {
		return nil, &FetchError{Op: "list", Err: errors.New("got an HTML page instead of JSON, session cookie is likely expired")}
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &FetchError{Op: "list", Err: fmt.Errorf("decode listing: %w", err)}
	}
	if key := c.region.ListResponseKey; key != "" {
		obj, ok := decoded.(map[string]any)
		if !ok {
			return nil, &FetchError{Op: "list", Err: fmt.Errorf("listing is not an object, cannot take key %q", key)}
		}
		decoded = obj[key]
	}
	items, ok := decoded.([]any)
	if !ok {
		return nil, &FetchError{Op: "list", Err: errors.New("listing is not an array")}
	}

	entries := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			entries = append(entries, m)
		}
	}
	c.logger.Debug("listing decoded", zap.Int("entries", len(entries)))
	return entries, nil
}

// DownloadActivity fetches the raw export bytes of one activity
func (c *RESTClient) DownloadActivity(ctx context.Context, id string) ([]byte, error) {
	path := strings.ReplaceAll(c.region.Endpoints.DownloadActivity, "{id}", url.PathEscape(id))

	req, err := c.newRequest(ctx, http.MethodGet, c.endpointURL(path), nil)
	if err != nil {
		return nil, &FetchError{Op: "download", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: "download", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Op: "download", Err: fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body))}
	}
	return body, nil
}

// UploadActivity pushes one activity file as a multipart form. A 409 conflict
// means the destination already has it.
func (c *RESTClient) UploadActivity(ctx context.Context, id string, payload []byte) (UploadStatus, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fmt.Sprintf("activity_%s%s", id, c.fileExt))
	if err != nil {
		return "", &UploadError{ActivityID: id, Err: err}
	}
	if _, err := part.Write(payload); err != nil {
		return "", &UploadError{ActivityID: id, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &UploadError{ActivityID: id, Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpointURL(c.region.Endpoints.UploadActivity), &buf)
	if err != nil {
		return "", &UploadError{ActivityID: id, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &UploadError{ActivityID: id, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return StatusDuplicate, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return StatusUploaded, nil
	default:
		return "", &UploadError{
			ActivityID: id,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body)),
		}
	}
}

// Consent performs the upload consent handshake. Param values "now" and
// "now_ms" resolve to the current epoch milliseconds.
func (c *RESTClient) Consent(ctx context.Context) error {
	endpoint := c.region.Endpoints.UploadConsent
	if endpoint == "" {
		return nil
	}

	u, err := url.Parse(c.endpointURL(endpoint))
	if err != nil {
		return &ConsentError{Err: err}
	}

	q := u.Query()
	nowMillis := strconv.FormatInt(c.now().UnixMilli(), 10)
	for k, v := range c.region.ConsentParams {
		if v == "now" || v == "now_ms" {
			v = nowMillis
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &ConsentError{Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ConsentError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ConsentError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	c.logger.Debug("upload consent confirmed")
	return nil
}

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
