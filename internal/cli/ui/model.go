package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stackvity/stack-ingest/internal/cli/hooks"
	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stackvity/stack-ingest/pkg/ingest/progress"
)

const listHeightMargin = 4

const (
	phaseInitializing = "Initializing..."
	phaseScanning     = "Scanning..."
	phaseProcessing   = "Processing..."
	phaseHeld         = "On hold"
	phaseComplete     = "Complete"
	phaseCancelled    = "Cancelled"
)

// HoldFunc is called when the user toggles the hold key.
type HoldFunc func(hold bool)

// Model represents the state of the TUI application.
type Model struct {
	list         list.Model
	spinner      spinner.Model
	width        int
	height       int
	initialized  bool
	version      string
	fileItems    []listItem
	itemMap      map[string]int // path -> index in fileItems
	snapshot     progress.Snapshot
	startTime    time.Time
	phaseMessage string
	fatalError   string
	quitting     bool
	held         bool
	onHold       HoldFunc
	listPending  bool
}

// listItem represents a single file in the TUI list.
type listItem struct {
	path     string
	status   ingest.Status
	message  string
	duration time.Duration
}

// UpdateListMsg signals that the list component should refresh its items.
type UpdateListMsg struct{}

const listUpdateDebounceDuration = 50 * time.Millisecond

// NewModel creates the initial model for the TUI. onHold may be nil.
func NewModel(version string, onHold HoldFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorStatusProcessing)

	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)
	delegate.ShowDescription = true
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorSelectedFg).
		Background(ColorSelectedBg).
		Bold(true).
		Padding(0, 0, 0, 1)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorSelectedDescFg).
		Background(ColorSelectedBg).
		Padding(0, 0, 0, 1)
	delegate.Styles.NormalTitle = delegate.Styles.NormalTitle.
		Foreground(ColorNormalFg).Padding(0, 0, 0, 1)
	delegate.Styles.NormalDesc = delegate.Styles.NormalDesc.
		Foreground(ColorNormalDescFg).Padding(0, 0, 0, 1)

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetShowTitle(false)
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	if onHold == nil {
		onHold = func(bool) {}
	}
	return &Model{
		list:         l,
		spinner:      s,
		version:      version,
		fileItems:    make([]listItem, 0, 1000),
		itemMap:      make(map[string]int),
		startTime:    time.Now(),
		phaseMessage: phaseInitializing,
		onHold:       onHold,
	}
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles key presses and producer events.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(m.width, max(m.height-listHeightMargin, 1))
		m.initialized = true

	case tea.KeyMsg:
		if m.quitting {
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "p", " ":
			m.held = !m.held
			m.onHold(m.held)
			if m.held {
				m.phaseMessage = phaseHeld
			} else {
				m.phaseMessage = phaseProcessing
			}
			return m, nil
		}
		var listCmd tea.Cmd
		m.list, listCmd = m.list.Update(msg)
		cmds = append(cmds, listCmd)

	case spinner.TickMsg:
		if m.quitting {
			return m, nil
		}
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		cmds = append(cmds, spinnerCmd)

	case hooks.FileDiscoveredMsg:
		if idx, exists := m.itemMap[msg.Path]; exists {
			m.fileItems[idx] = listItem{path: msg.Path, status: ingest.StatusPending}
		} else {
			m.fileItems = append(m.fileItems, listItem{path: msg.Path, status: ingest.StatusPending})
			m.itemMap[msg.Path] = len(m.fileItems) - 1
		}
		if m.phaseMessage == phaseInitializing || m.phaseMessage == phaseComplete || m.phaseMessage == phaseCancelled {
			m.phaseMessage = phaseScanning
			m.fatalError = ""
		}
		cmds = append(cmds, m.scheduleListUpdate())

	case hooks.FileStatusUpdateMsg:
		item := listItem{path: msg.Path, status: msg.Status, message: msg.Message, duration: msg.Duration}
		if idx, ok := m.itemMap[msg.Path]; ok {
			m.fileItems[idx] = item
		} else {
			m.fileItems = append(m.fileItems, item)
			m.itemMap[msg.Path] = len(m.fileItems) - 1
		}
		if msg.Status == ingest.StatusProcessing && !m.held && m.phaseMessage != phaseProcessing {
			m.phaseMessage = phaseProcessing
		}
		cmds = append(cmds, m.scheduleListUpdate())

	case hooks.ProgressMsg:
		m.snapshot = msg.Snapshot

	case hooks.RunCompleteMsg:
		s := msg.Report.Summary
		m.snapshot.Accepted = s.Accepted
		m.snapshot.Skipped = s.Skipped
		m.snapshot.Failed = s.Failed
		m.snapshot.TotalRemaining = s.TotalRemaining
		m.snapshot.Discovered = s.Discovered
		m.snapshot.Final = true
		m.snapshot.Cancelled = s.Cancelled
		switch {
		case s.FatalError != "":
			m.phaseMessage = phaseComplete
			m.fatalError = "Fatal Error: " + s.FatalError
		case s.Cancelled:
			m.phaseMessage = phaseCancelled
		default:
			m.phaseMessage = phaseComplete
		}

	case UpdateListMsg:
		m.listPending = false
		items := make([]list.Item, len(m.fileItems))
		for i, item := range m.fileItems {
			items[i] = item
		}
		cmds = append(cmds, m.list.SetItems(items))
	}

	return m, tea.Batch(cmds...)
}

// scheduleListUpdate coalesces list refreshes to at most one per debounce window.
func (m *Model) scheduleListUpdate() tea.Cmd {
	if m.listPending {
		return nil
	}
	m.listPending = true
	return tea.Tick(listUpdateDebounceDuration, func(time.Time) tea.Msg { return UpdateListMsg{} })
}

// View renders the header, the file list and the counters footer.
func (m *Model) View() string {
	if m.quitting {
		return "Exiting...\n"
	}
	if !m.initialized {
		return phaseInitializing
	}

	headerLeft := fmt.Sprintf("Stack Ingest %s", m.version)
	headerRight := m.phaseMessage
	if m.phaseMessage != phaseComplete && m.phaseMessage != phaseCancelled && m.phaseMessage != phaseHeld {
		headerRight = m.spinner.View() + " " + m.phaseMessage
	}
	header := HeaderStyle.Width(m.width).Render(spread(m.width-HeaderStyle.GetHorizontalFrameSize(), headerLeft, headerRight))

	footerLeft := m.summaryLine()
	footerRight := "p: hold/resume  q: quit"
	footer := FooterStyle.Width(m.width).Render(spread(m.width-FooterStyle.GetHorizontalFrameSize(), footerLeft, footerRight))

	errorView := ""
	if m.fatalError != "" {
		errorView = StatusStyleFailed.Render(m.fatalError) + "\n"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.list.View(),
		errorView,
		footer,
	)
}

func (m *Model) summaryLine() string {
	return fmt.Sprintf(
		"Accepted: %d | Skipped: %d (Failed: %d) | Remaining: %d | Discovered: %d | Elapsed: %s",
		m.snapshot.Accepted,
		m.snapshot.Skipped,
		m.snapshot.Failed,
		m.snapshot.TotalRemaining,
		m.snapshot.Discovered,
		time.Since(m.startTime).Round(time.Second),
	)
}

func spread(width int, left, right string) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	center := ""
	if gap > 0 {
		center = lipgloss.PlaceHorizontal(gap, lipgloss.Center, " ")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, center, right)
}

// --- List Item Interface ---

// FilterValue implements the list.Item interface.
func (i listItem) FilterValue() string { return i.path }

// Title implements the list.Item interface.
func (i listItem) Title() string { return i.path }

// Description implements the list.Item interface.
func (i listItem) Description() string {
	var statusStyle lipgloss.Style
	var statusIcon string
	switch i.status {
	case ingest.StatusPublished:
		statusStyle = StatusStylePublished
		statusIcon = "✓"
	case ingest.StatusFailed:
		statusStyle = StatusStyleFailed
		statusIcon = "✗"
	case ingest.StatusSkipped:
		statusStyle = StatusStyleSkipped
		statusIcon = "S"
	case ingest.StatusProcessing:
		statusStyle = StatusStyleProcessing
		statusIcon = "…"
	default:
		statusStyle = StatusStylePending
		statusIcon = " "
	}

	details := ""
	switch i.status {
	case ingest.StatusFailed, ingest.StatusSkipped:
		details = i.message
	case ingest.StatusPublished:
		details = strings.TrimSpace(i.message + " " + formatDuration(i.duration))
	}
	return fmt.Sprintf("%s %s", statusStyle.Render("["+statusIcon+"]"), details)
}

// formatDuration formats duration for display.
func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return ""
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// --- Styles ---

const (
	ColorHeaderFg = lipgloss.Color("252")
	ColorHeaderBg = lipgloss.Color("62")

	ColorFooterFg = lipgloss.Color("252")
	ColorFooterBg = lipgloss.Color("56")

	ColorNormalFg     = lipgloss.Color("250")
	ColorNormalDescFg = lipgloss.Color("244")

	ColorSelectedFg     = lipgloss.Color("255")
	ColorSelectedBg     = lipgloss.Color("56")
	ColorSelectedDescFg = lipgloss.Color("248")

	ColorStatusPublished  = lipgloss.Color("40")
	ColorStatusFailed     = lipgloss.Color("196")
	ColorStatusSkipped    = lipgloss.Color("214")
	ColorStatusPending    = lipgloss.Color("244")
	ColorStatusProcessing = lipgloss.Color("205")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHeaderFg).
			Background(ColorHeaderBg).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorFooterFg).
			Background(ColorFooterBg).
			Padding(0, 1)

	StatusStylePublished  = lipgloss.NewStyle().Foreground(ColorStatusPublished)
	StatusStyleFailed     = lipgloss.NewStyle().Foreground(ColorStatusFailed)
	StatusStyleSkipped    = lipgloss.NewStyle().Foreground(ColorStatusSkipped)
	StatusStylePending    = lipgloss.NewStyle().Foreground(ColorStatusPending)
	StatusStyleProcessing = lipgloss.NewStyle().Foreground(ColorStatusProcessing)
)
