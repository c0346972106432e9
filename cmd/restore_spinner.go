package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bnema/devsession/internal/application"
	"github.com/bnema/devsession/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const restoreSpinnerLabel = "Restoring session..."

type restoreDoneMsg struct {
	report application.RestoreReport
	err    error
}

// restoreSpinnerModel spins while a restore runs and leaves a one-line
// summary of the reopened files behind.
type restoreSpinnerModel struct {
	spinner spinner.Model
	restore tea.Cmd
	report  application.RestoreReport
	err     error
	done    bool

	okStyle   lipgloss.Style
	warnStyle lipgloss.Style
}

func newRestoreSpinnerModel(restore tea.Cmd) restoreSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return restoreSpinnerModel{
		spinner:   s,
		restore:   restore,
		okStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warnStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

func (m restoreSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.restore)
}

func (m restoreSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case restoreDoneMsg:
		m.done = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m restoreSpinnerModel) View() string {
	if !m.done {
		return fmt.Sprintf("%s %s", m.spinner.View(), restoreSpinnerLabel)
	}

	switch {
	case errors.Is(m.err, domain.ErrSessionNotFound):
		return "No session to restore\n"
	case m.err != nil:
		return ""
	}

	reopened := m.report.Attempted - len(m.report.Failed)
	summary := fmt.Sprintf("Reopened %d of %d files", reopened, m.report.Attempted)
	if len(m.report.Failed) > 0 {
		return m.warnStyle.Render(summary) + "\n"
	}
	return m.okStyle.Render(summary) + "\n"
}

// runRestoreWithSpinner runs restore behind a spinner on output and returns
// its report.
func runRestoreWithSpinner(
	ctx context.Context,
	output io.Writer,
	restore func(context.Context) (application.RestoreReport, error),
) (application.RestoreReport, error) {
	restoreCmd := func() tea.Msg {
		report, err := restore(ctx)
		return restoreDoneMsg{report: report, err: err}
	}

	p := tea.NewProgram(
		newRestoreSpinnerModel(restoreCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return application.RestoreReport{}, err
	}

	result, ok := finalModel.(restoreSpinnerModel)
	if !ok {
		return application.RestoreReport{}, fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.report, result.err
}
