// Package tui renders a flashing job's live event stream as a terminal
// progress view.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"flashkit/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).
			Padding(0, 1)

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60A5FA")).
			Bold(true)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))

	logViewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF"))
)

const maxVisibleLines = 16

// EventMsg wraps one model.Event as a bubbletea message; the caller's event
// pump goroutine sends these via (*tea.Program).Send.
type EventMsg model.Event

// DoneMsg signals the job reached a terminal state; Err is nil on success.
type DoneMsg struct{ Err error }

// Model is the bubbletea model for one flashing run.
type Model struct {
	jobID    string
	step     string
	lines    []string
	progress progress.Model
	percent  float64
	done     bool
	err      error
}

func New(jobID string) Model {
	return Model{
		jobID:    jobID,
		progress: progress.New(progress.WithDefaultGradient()),
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case EventMsg:
		ev := model.Event(msg)
		m.step = ev.Step
		m.lines = append(m.lines, renderLine(ev))
		if len(m.lines) > maxVisibleLines {
			m.lines = m.lines[len(m.lines)-maxVisibleLines:]
		}
		if ev.Progress != nil {
			m.percent = float64(ev.Progress.Percent) / 100
		}
		return m, nil
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf(" flashkit · job %s ", m.jobID)))
	b.WriteString("\n\n")
	if m.step != "" {
		b.WriteString(stepStyle.Render(m.step))
		b.WriteString("\n")
	}
	b.WriteString(m.progress.ViewAs(m.percent))
	b.WriteString("\n\n")
	b.WriteString(logViewStyle.Render(strings.Join(m.lines, "\n")))
	b.WriteString("\n")

	if m.done {
		if m.err != nil {
			b.WriteString(errorStyle.Render("flashing failed: " + m.err.Error()))
		} else {
			b.WriteString(successStyle.Render("flashing completed"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderLine(ev model.Event) string {
	prefix := string(ev.Step)
	if ev.Partition != "" {
		prefix += "/" + string(ev.Partition)
	}
	line := fmt.Sprintf("[%s] %s", prefix, ev.Message)
	switch ev.Level {
	case model.LevelSuccess:
		return successStyle.Render(line)
	case model.LevelWarning:
		return warningStyle.Render(line)
	case model.LevelError:
		return errorStyle.Render(line)
	case model.LevelInfo, model.LevelCommand, model.LevelOutput:
		return infoStyle.Render(line)
	default:
		return line
	}
}
