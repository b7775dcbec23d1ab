package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog     zerolog.Logger
	diagFile    *os.File
	sessionFile *os.File
	logMu       sync.Mutex
	logReady    atomic.Bool
	pid         int
	dir         string
)

// UploadMetrics is one upload's size and network breakdown, in the units
// written to the diagnostics log.
type UploadMetrics struct {
	AudioLengthS float64
	RawSizeKB    float64
	ClipSizeKB   float64
	EncodeTimeMs float64
	DNSTimeMs    float64
	TCPTimeMs    float64
	TLSTimeMs    float64
	TTFBMs       float64
	TotalTimeMs  float64
	StatusCode   int
	ConnReused   bool
	TLSProtocol  string
}

// SessionRecord is one line of sessions_log.txt.
type SessionRecord struct {
	ID       string
	Format   string
	HeldMs   float64
	TotalMs  float64
	ClipSize int
	Outcome  string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: HOLDTALK_LOG_PATH environment variable
	if envPath := os.Getenv("HOLDTALK_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	sessionPath := filepath.Join(dir, "sessions_log.txt")
	sessionFile, err = os.OpenFile(sessionPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady.Store(true)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if sessionFile != nil {
		sessionFile.Close()
		sessionFile = nil
	}
}

func Info(msg string) {
	if logReady.Load() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady.Load() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady.Load() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady.Load() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func AppStart(version, endpoint, format, device string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("version", version).
		Str("endpoint", endpoint).
		Str("format", format).
		Str("device", device).
		Msg("app_start")
}

func AppEnd(sessions int) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Int("sessions", sessions).
		Msg("app_end")
}

// Transition records a controller state change.
func Transition(session, from, to, indicator string) {
	if !logReady.Load() {
		return
	}
	ev := diagLog.Info().Str("from", from).Str("to", to)
	if session != "" {
		ev = ev.Str("session", session)
	}
	if indicator != "" {
		ev = ev.Str("indicator", indicator)
	}
	ev.Msg("transition")
}

func Upload(session string, m UploadMetrics) {
	if !logReady.Load() {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("session", session).
		Int("status", m.StatusCode).
		Str("conn", connStatus)
	if m.TLSProtocol != "" {
		ev = ev.Str("tls_proto", m.TLSProtocol)
	}
	ev.Float64("audio_s", m.AudioLengthS).
		Float64("raw_kb", m.RawSizeKB).
		Float64("clip_kb", m.ClipSizeKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tcp_ms", m.TCPTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("upload")
}

// Session appends one tab-separated line to sessions_log.txt.
func Session(r SessionRecord) {
	if !logReady.Load() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if sessionFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%.0f\t%.0f\t%d\t%s\n",
		time.Now().Format("2006-01-02 15:04:05"), pid,
		r.ID, r.Format, r.HeldMs, r.TotalMs, r.ClipSize, r.Outcome)
	sessionFile.WriteString(line)
}
