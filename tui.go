package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"holdtalk/session"
	"holdtalk/silence"
)

// TUI message types
type StatusMsg struct{ Status session.Status }
type AudioLevelMsg struct{ Level float64 }
type SessionMsg struct{ Summary session.Summary }
type ErrorMsg struct{ Err error }
type NoVoiceMsg struct{ Warn bool }
type DeviceLineMsg struct{ Text string }
type tickMsg time.Time

const historySize = 5

type tuiModel struct {
	status     session.Status
	frame      int
	since      time.Time // press time of the current session
	now        time.Time
	audioLevel float64
	peakLevel  float64
	noVoice    bool
	width      int
	height     int

	endpoint   string
	format     string
	deviceLine string
	hybrid     bool

	history []session.Summary // newest first
	count   int
	lastErr string
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	styleRec     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleLoading = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	styleIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleInert   = lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Strikethrough(true)
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleHelp    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleHelpKey = styleHelp.Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	styleMeterOn = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("237")).Padding(0, 1)
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func newTUIModel(endpoint, format, device string, hybrid bool) tuiModel {
	return tuiModel{
		endpoint:   endpoint,
		format:     format,
		deviceLine: deviceLineText(device),
		hybrid:     hybrid,
		now:        time.Now(),
	}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func deviceLineText(name string) string {
	if name == "" {
		return "mic: system default"
	}
	return "mic: " + name
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tickMsg:
		m.frame++
		m.now = time.Time(msg)
		return m, tuiTick()

	case StatusMsg:
		prev := m.status
		m.status = msg.Status
		if msg.Status.State == session.Listening && prev.SessionID != msg.Status.SessionID {
			m.since = m.now
			m.audioLevel = 0
			m.peakLevel = 0
			m.noVoice = false
			m.lastErr = ""
		}
		if msg.Status.State != session.Listening {
			m.audioLevel = 0
		}

	case AudioLevelMsg:
		if m.status.State == session.Listening {
			m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4
			m.peakLevel = max(m.peakLevel, msg.Level)
		}

	case NoVoiceMsg:
		m.noVoice = msg.Warn

	case SessionMsg:
		m.count++
		m.history = append([]session.Summary{msg.Summary}, m.history...)
		if len(m.history) > historySize {
			m.history = m.history[:historySize]
		}

	case ErrorMsg:
		m.lastErr = msg.Err.Error()

	case DeviceLineMsg:
		m.deviceLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	switch m.status.Indicator {
	case session.IndicatorActive:
		held := m.now.Sub(m.since).Seconds()
		return styleRec.Render(fmt.Sprintf("● REC %.1fs", max(held, 0)))
	case session.IndicatorWaiting:
		return styleWaiting.Render("◍ finishing capture")
	case session.IndicatorLoading:
		return styleLoading.Render(spinnerFrames[m.frame%len(spinnerFrames)] + " uploading")
	case session.IndicatorInert:
		return styleInert.Render("✕ microphone unavailable")
	}
	return styleIdle.Render("○ STANDBY")
}

// levelMeter renders the smoothed input level as a bar of width cells.
func levelMeter(level float64, width int) string {
	// speech RMS rarely goes past 0.25
	filled := int(min(level*4, 1) * float64(width))
	return styleMeterOn.Render(strings.Repeat("▮", filled)) + styleHelp.Render(strings.Repeat("▯", width-filled))
}

func historyLine(s session.Summary) string {
	outcome := styleOK.Render("ok")
	if s.Err != nil {
		outcome = styleFail.Render("failed")
	}
	code := "---"
	if s.Result != nil {
		code = fmt.Sprintf("%d", s.Result.StatusCode)
	}
	return fmt.Sprintf("%s  %5.1fs  %7.1fKB  %s  %s  %s",
		s.Started.Format("15:04:05"),
		s.Held.Seconds(),
		float64(len(s.Clip.Data))/1024,
		code,
		outcome,
		styleDim.Render(shortID(s.SessionID)),
	)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func (m tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var lines []string
	lines = append(lines, m.statusLine())
	if m.status.State == session.Listening {
		lines = append(lines, levelMeter(m.audioLevel, 30))
		if m.noVoice {
			lines = append(lines, styleWarn.Render("⚠ no voice detected"))
		}
	}
	if m.lastErr != "" {
		lines = append(lines, styleFail.Render(m.lastErr))
	}

	lines = append(lines, "",
		styleDim.Render(fmt.Sprintf("[%s] POST %s", m.format, m.endpoint)),
		styleDim.Render(m.deviceLine),
		"",
	)

	if len(m.history) == 0 {
		lines = append(lines, styleIdle.Render("No sessions yet"))
	} else {
		lines = append(lines, styleDim.Render(fmt.Sprintf("Last sessions (%d total)", m.count)))
		for _, s := range m.history {
			lines = append(lines, historyLine(s))
		}
	}

	lines = append(lines, "")
	if m.hybrid {
		lines = append(lines, styleHelpKey.Render("Ctrl+Shift+Space")+styleHelp.Render(" hold to talk, tap to toggle"))
	} else {
		lines = append(lines, styleHelpKey.Render("Ctrl+Shift+Space")+styleHelp.Render(" hold to talk"))
	}
	lines = append(lines, styleHelp.Render("holdtalk "+version+"  q to quit"))

	width := max(m.width-2, 20)
	return panelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

// tuiObserver forwards controller events to the running program.
type tuiObserver struct{}

func (tuiObserver) StatusChanged(s session.Status) { tuiSend(StatusMsg{Status: s}) }

func (tuiObserver) SessionError(_ uuid.UUID, err error) { tuiSend(ErrorMsg{Err: err}) }

func (tuiObserver) SessionFinished(s session.Summary) { tuiSend(SessionMsg{Summary: s}) }

func silenceToTUI(ev silence.Event) {
	switch ev {
	case silence.Warn:
		tuiSend(NoVoiceMsg{Warn: true})
	case silence.WarnClear, silence.AutoClose:
		tuiSend(NoVoiceMsg{Warn: false})
	}
}
