package tui

import (
	"context"
	"strings"

	"nrfdfu-tool/internal/ble"
	"nrfdfu-tool/internal/dfu"
	"nrfdfu-tool/internal/dfupkg"
	"nrfdfu-tool/internal/logging"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxLogLines = 8

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Messages posted from the update goroutine.

type progressMsg int

type logMsg string

type doneMsg struct{ err error }

// model shows one update run: a progress bar plus the recent log tail.
type model struct {
	progress progress.Model
	percent  float64
	logs     []string
	done     bool
	err      error
	cancel   context.CancelFunc
}

func newModel(cancel context.CancelFunc) model {
	return model{
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		cancel:   cancel,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			// Cancel the run; the doneMsg quits once it unwinds.
			m.cancel()
			return m, nil
		}
	case tea.WindowSizeMsg:
		w := msg.Width - 8
		if w > 60 {
			w = 60
		}
		if w > 10 {
			m.progress.Width = w
		}
	case progressMsg:
		m.percent = float64(msg) / 100
	case logMsg:
		m.logs = append(m.logs, string(msg))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Firmware Update"))
	b.WriteString("\n\n")
	b.WriteString(m.progress.ViewAs(m.percent))
	b.WriteString("\n\n")
	for _, line := range m.logs {
		b.WriteString(dimStyle.Render(line))
		b.WriteString("\n")
	}
	if m.done {
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(failStyle.Render("Failed: " + m.err.Error()))
		} else {
			b.WriteString(okStyle.Render("DFU complete."))
		}
		b.WriteString("\n")
	} else {
		b.WriteString(dimStyle.Render("\nq to cancel"))
	}
	return b.String()
}

// teaWriter feeds encoded log lines into the running program.
type teaWriter struct {
	p *tea.Program
}

func (w *teaWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		w.p.Send(logMsg(line))
	}
	return len(b), nil
}

// RunUpdate drives a full update run behind an interactive progress
// view. The engine logs into the view instead of stdout.
func RunUpdate(cfg dfu.Config, pkg *dfupkg.Package, central *ble.Central) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(newModel(cancel))

	go func() {
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(logging.EncoderConfig()),
			zapcore.AddSync(&teaWriter{p: p}),
			zapcore.InfoLevel,
		)
		obs := dfu.Observer{
			Log:      zap.New(core).Sugar(),
			Progress: func(pct int) { p.Send(progressMsg(pct)) },
		}
		err := dfu.NewOrchestrator(cfg, pkg, central, central, obs).Run(ctx)
		p.Send(doneMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(model); ok {
		return m.err
	}
	return nil
}
