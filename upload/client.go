package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"holdtalk/encoder"
)

// ErrUploadFailed wraps every transport error and non-2xx response.
var ErrUploadFailed = errors.New("upload failed")

// Path is appended to the configured API URL.
const Path = "/speech"

type Result struct {
	StatusCode int
	ClipSize   int
	Metrics    *NetworkMetrics
}

// Ticket tracks one in-flight upload. Done is closed exactly once, after
// which Result is final.
type Ticket struct {
	Clip    encoder.Clip
	Started time.Time

	done   chan struct{}
	once   sync.Once
	result *Result
	err    error
}

func NewTicket(clip encoder.Clip) *Ticket {
	return &Ticket{Clip: clip, Started: time.Now(), done: make(chan struct{})}
}

func (t *Ticket) Done() <-chan struct{} { return t.done }

// Result returns the outcome. It must only be called after Done is closed.
func (t *Ticket) Result() (*Result, error) {
	return t.result, t.err
}

// Complete records the outcome. Only the first call has any effect.
func (t *Ticket) Complete(res *Result, err error) {
	t.once.Do(func() {
		t.result, t.err = res, err
		close(t.done)
	})
}

type Option func(*Client)

// WithTimeout bounds every upload. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = newTracedClient(hc) }
}

type Client struct {
	endpoint string
	timeout  time.Duration
	http     *tracedClient
}

// New returns a client posting to apiURL + "/speech".
func New(apiURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", apiURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api url %q: missing host", apiURL)
	}

	c := &Client{endpoint: strings.TrimRight(apiURL, "/") + Path}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newTracedClient(nil)
	}
	return c, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

// Submit starts uploading clip in the background.
func (c *Client) Submit(ctx context.Context, clip encoder.Clip) *Ticket {
	t := NewTicket(clip)
	go func() {
		res, err := c.Upload(ctx, clip)
		t.Complete(res, err)
	}()
	return t
}

// Upload posts clip and waits for the response. The response body is
// drained and discarded.
func (c *Client) Upload(ctx context.Context, clip encoder.Clip) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, contentType, err := formBody(clip)
	if err != nil {
		return nil, fmt.Errorf("%w: building form: %v", ErrUploadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.http.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	res := &Result{StatusCode: resp.StatusCode, ClipSize: len(clip.Data), Metrics: resp.Metrics}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, fmt.Errorf("%w: server returned %d", ErrUploadFailed, resp.StatusCode)
	}
	return res, nil
}

func formBody(clip encoder.Clip) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	name := clip.Name
	if name == "" {
		name = encoder.ClipName
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	h.Set("Content-Type", mimeType(clip.Format))

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &body, writer.FormDataContentType(), nil
}

func mimeType(format string) string {
	switch format {
	case encoder.FormatFLAC:
		return "audio/flac"
	case encoder.FormatWAV, "":
		return "audio/wav"
	}
	return "application/octet-stream"
}
