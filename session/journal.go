package session

import (
	"github.com/google/uuid"

	"holdtalk/log"
)

// Journal writes finished sessions to the diagnostics and sessions logs.
type Journal struct{}

func (Journal) StatusChanged(Status) {}

func (Journal) SessionError(uuid.UUID, error) {}

func (Journal) SessionFinished(s Summary) {
	id := s.SessionID.String()
	log.Session(log.SessionRecord{
		ID:       id,
		Format:   s.Format,
		HeldMs:   float64(s.Held.Milliseconds()),
		TotalMs:  float64(s.Total.Milliseconds()),
		ClipSize: len(s.Clip.Data),
		Outcome:  s.Outcome(),
	})

	if s.Result == nil {
		return
	}
	m := log.UploadMetrics{
		AudioLengthS: s.Clip.Duration().Seconds(),
		RawSizeKB:    float64(s.Clip.RawSize()) / 1024,
		ClipSizeKB:   float64(len(s.Clip.Data)) / 1024,
		EncodeTimeMs: float64(s.Clip.Encode.Microseconds()) / 1000,
		StatusCode:   s.Result.StatusCode,
	}
	if nm := s.Result.Metrics; nm != nil {
		m.DNSTimeMs = float64(nm.DNS.Milliseconds())
		m.TCPTimeMs = float64(nm.TCP.Milliseconds())
		m.TLSTimeMs = float64(nm.TLS.Milliseconds())
		m.TTFBMs = float64(nm.TTFB.Milliseconds())
		m.TotalTimeMs = float64(nm.Total.Milliseconds())
		m.ConnReused = nm.ConnReused
		m.TLSProtocol = nm.TLSProtocol
	}
	log.Upload(id, m)
}

var _ Observer = Journal{}
