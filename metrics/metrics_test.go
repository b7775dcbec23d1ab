package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holdtalk/audio"
	"holdtalk/encoder"
	"holdtalk/session"
	"holdtalk/upload"
)

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	id := uuid.New()

	m.StatusChanged(session.Status{State: session.Listening, Indicator: session.IndicatorActive, SessionID: id})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	m.StatusChanged(session.Status{State: session.Processing, Indicator: session.IndicatorWaiting, SessionID: id})
	m.StatusChanged(session.Status{State: session.Processing, Indicator: session.IndicatorLoading, SessionID: id})
	m.SessionError(id, fmt.Errorf("%w: server returned 500", upload.ErrUploadFailed))
	m.SessionFinished(session.Summary{
		SessionID: id,
		Held:      500 * time.Millisecond,
		Total:     time.Second,
		Clip:      encoder.Clip{Data: make([]byte, 2048)},
		Result:    &upload.Result{StatusCode: 500, Metrics: &upload.NetworkMetrics{Total: 30 * time.Millisecond}},
	})
	m.StatusChanged(session.Status{State: session.Idle})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("upload")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ClipSize))
}

func TestPermissionDeniedCounted(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SessionError(uuid.New(), fmt.Errorf("acquiring microphone: %w", audio.ErrPermissionDenied))
	m.SessionError(uuid.New(), fmt.Errorf("acquiring microphone: %w", audio.ErrPermissionDenied))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PermissionDenied))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.UploadFailures))
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SessionsStarted.Inc()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, "holdtalk_sessions_started_total 1"))

	cancel()
	assert.NoError(t, <-done)
}
