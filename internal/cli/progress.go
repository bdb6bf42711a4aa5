package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"showrunner/internal/engine"
	"showrunner/internal/jobstore"
	"showrunner/internal/service"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers a status poll.
type tickMsg time.Time

// statusMsg carries a fresh status snapshot.
type statusMsg struct {
	status *engine.RunStatus
	err    error
}

// runDoneMsg signals that the run goroutine finished.
type runDoneMsg struct {
	status *engine.RunStatus
	err    error
}

// progressModel drives the live run display.
type progressModel struct {
	svc          *service.ProductionService
	productionID string
	status       *engine.RunStatus
	progress     progress.Model
	theme        Theme
	done         bool
	quitting     bool
	err          error
}

func newProgressModel(svc *service.ProductionService, productionID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		svc:          svc,
		productionID: productionID,
		progress:     prog,
		theme:        defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case statusMsg:
		if msg.err == nil {
			m.status = msg.status
		}
		// Keep polling; the run goroutine decides when we are done.
		return m, tickCmd()

	case runDoneMsg:
		m.done = true
		m.err = msg.err
		if msg.status != nil {
			m.status = msg.status
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.status == nil {
		return "Starting run...\n"
	}

	c := m.status.Counts
	var pct float64
	if c.Total > 0 {
		pct = float64(c.Completed+c.Failed) / float64(c.Total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.status.Status))
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d nodes", c.Completed+c.Failed, c.Total)
	if c.Failed > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", c.Failed))
	}
	hint := m.theme.hintStyle().Render("Press Ctrl+C to interrupt (resume later with --resume)")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nRun interrupted. Completed work is kept;\nuse 'showrunner run %s --resume' to continue.\n",
			m.productionID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Run failed: %s\n", m.err))
	}

	if m.status != nil {
		c := m.status.Counts
		out := m.theme.completedStyle().Render("✓ Run finished") + "\n\n"
		out += fmt.Sprintf("  Completed: %d/%d\n", c.Completed, c.Total)
		if c.Failed > 0 {
			out += m.theme.errorStyle().Render(fmt.Sprintf("  Failed:    %d\n", c.Failed))
			for _, rec := range m.status.Jobs {
				if rec.Status == jobstore.StatusFailed {
					out += fmt.Sprintf("    • %s: %s\n", rec.EntityID, rec.Error)
				}
			}
		}
		return out
	}

	return m.theme.completedStyle().Render("✓ Run finished\n")
}

// fetchStatus polls in a command so Update never blocks.
func (m progressModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := m.svc.Status(ctx, m.productionID)
		return statusMsg{status: status, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runWithProgress executes the run in the background and shows the live
// progress UI. Ctrl+C detaches the display; the run keeps going.
func runWithProgress(ctx context.Context, svc *service.ProductionService, id string, opts service.RunOptions) error {
	p := tea.NewProgram(newProgressModel(svc, id))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		status, _, err := svc.Run(runCtx, id, opts)
		p.Send(runDoneMsg{status: status, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			cancel()
			return nil
		}
		if m.err != nil {
			return m.err
		}
		if m.status != nil {
			printRunStatus(m.status)
		}
	}
	return nil
}
