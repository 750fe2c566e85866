package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bnema/agentforge-cli/internal/ledger"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type snapshotMsg struct {
	snapshot ledger.Snapshot
}

type closedMsg struct{}

type liveModel struct {
	spinner  spinner.Model
	styles   styles
	updates  <-chan ledger.Snapshot
	now      func() time.Time
	snapshot ledger.Snapshot
	seen     bool
	done     bool
}

func newLiveModel(updates <-chan ledger.Snapshot, now func() time.Time) liveModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return liveModel{
		spinner: s,
		styles:  newStyles(),
		updates: updates,
		now:     now,
	}
}

func waitForSnapshot(updates <-chan ledger.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snapshot, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg{snapshot: snapshot}
	}
}

func (m liveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case snapshotMsg:
		if !m.seen || msg.snapshot.Version > m.snapshot.Version {
			m.snapshot = msg.snapshot
			m.seen = true
		}
		return m, waitForSnapshot(m.updates)
	case closedMsg:
		m.done = true
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m liveModel) View() string {
	if !m.seen {
		return fmt.Sprintf("%s %s", m.spinner.View(), "Connecting to pipeline...")
	}

	now := m.now()
	if m.snapshot.Terminal() {
		now = m.snapshot.At
	}
	return renderRun(viewFromSnapshot(m.snapshot), m.spinner.View(), now, m.styles) + "\n"
}

// Live drives an inline bubbletea program from ledger snapshots. Only the
// newest pending snapshot is kept, so a slow terminal never holds up the
// ledger.
type Live struct {
	output  io.Writer
	now     func() time.Time
	updates chan ledger.Snapshot
	once    sync.Once
}

func NewLive(output io.Writer) *Live {
	return &Live{
		output:  output,
		now:     time.Now,
		updates: make(chan ledger.Snapshot, 1),
	}
}

// Update hands the newest snapshot to the program, replacing any snapshot it
// has not picked up yet. Must not be called after Close.
func (l *Live) Update(snapshot ledger.Snapshot) {
	for {
		select {
		case l.updates <- snapshot:
			return
		default:
		}
		select {
		case stale := <-l.updates:
			if stale.Version > snapshot.Version {
				snapshot = stale
			}
		default:
		}
	}
}

// Close ends the program after it has drawn the last snapshot.
func (l *Live) Close() {
	l.once.Do(func() { close(l.updates) })
}

func (l *Live) Run(ctx context.Context) error {
	p := tea.NewProgram(
		newLiveModel(l.updates, l.now),
		tea.WithInput(nil),
		tea.WithOutput(l.output),
		tea.WithContext(ctx),
	)

	_, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("live progress view: %w", err)
	}

	return nil
}
