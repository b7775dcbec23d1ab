package upload

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// NetworkMetrics is the per-request timing breakdown collected through
// httptrace.
type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

type tracedClient struct {
	client *http.Client
}

func newTracedClient(hc *http.Client) *tracedClient {
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	}
	return &tracedClient{client: hc}
}

type tracedResponse struct {
	StatusCode int
	BodySize   int64
	Metrics    *NetworkMetrics
}

// traceState collects httptrace callbacks, which net/http fires from its
// connection read and write goroutines.
type traceState struct {
	mu sync.Mutex
	m  NetworkMetrics

	getConnStart, dnsStart, tcpStart, tlsStart     time.Time
	gotConn, wroteHeaders, wroteRequest, firstByte time.Time
}

func (s *traceState) with(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

func (s *traceState) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(_ string) { s.with(func() { s.getConnStart = time.Now() }) },
		GotConn: func(info httptrace.GotConnInfo) {
			s.with(func() {
				s.gotConn = time.Now()
				s.m.ConnWait = s.gotConn.Sub(s.getConnStart)
				s.m.ConnReused = info.Reused
			})
		},
		DNSStart: func(_ httptrace.DNSStartInfo) { s.with(func() { s.dnsStart = time.Now() }) },
		DNSDone:  func(_ httptrace.DNSDoneInfo) { s.with(func() { s.m.DNS = time.Since(s.dnsStart) }) },
		ConnectStart: func(_, _ string) {
			s.with(func() { s.tcpStart = time.Now() })
		},
		ConnectDone: func(_, _ string, _ error) {
			s.with(func() { s.m.TCP = time.Since(s.tcpStart) })
		},
		TLSHandshakeStart: func() { s.with(func() { s.tlsStart = time.Now() }) },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			s.with(func() {
				s.m.TLS = time.Since(s.tlsStart)
				s.m.TLSProtocol = tls.VersionName(cs.Version)
			})
		},
		WroteHeaders: func() {
			s.with(func() {
				s.wroteHeaders = time.Now()
				s.m.ReqHeaders = s.wroteHeaders.Sub(s.gotConn)
			})
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			s.with(func() {
				s.wroteRequest = time.Now()
				s.m.ReqBody = s.wroteRequest.Sub(s.wroteHeaders)
			})
		},
		GotFirstResponseByte: func() {
			s.with(func() {
				s.firstByte = time.Now()
				s.m.TTFB = s.firstByte.Sub(s.wroteRequest)
			})
		},
	}
}

// finish completes the metrics once the body has been read and returns a
// copy the hooks can no longer touch.
func (s *traceState) finish(reqStart time.Time) *NetworkMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.firstByte.IsZero() {
		s.m.Download = time.Since(s.firstByte)
	}
	s.m.Total = time.Since(reqStart)
	m := s.m
	return &m
}

// do sends req and drains the response body without keeping it.
func (c *tracedClient) do(req *http.Request) (*tracedResponse, error) {
	ts := &traceState{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), ts.clientTrace()))
	reqStart := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, err
	}

	return &tracedResponse{
		StatusCode: resp.StatusCode,
		BodySize:   n,
		Metrics:    ts.finish(reqStart),
	}, nil
}
