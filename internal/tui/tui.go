package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mrwolf/adventure-server/internal/models"
	"github.com/mrwolf/adventure-server/internal/narrator"
)

// Sessions is the slot registry the terminal client plays against
type Sessions interface {
	Get(ctx context.Context, slot string) (models.UIState, error)
	Turn(ctx context.Context, slot, input string) (*narrator.TurnResult, error)
	Reset(slot string) bool
}

type sessionState int

const (
	stateLoading sessionState = iota
	statePlaying
	stateError
)

type model struct {
	state     sessionState
	sessions  Sessions
	slot      string
	ui        models.UIState
	textInput textinput.Model
	viewport  viewport.Model
	err       error
	notice    string
	busy      bool
	gameLog   string
	width     int
	height    int
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D75F5F"))

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)
)

func NewModel(sessions Sessions, slot string) model {
	ti := textinput.New()
	ti.Placeholder = "What do you do?"
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	return model{
		state:     stateLoading,
		sessions:  sessions,
		slot:      slot,
		textInput: ti,
		viewport:  viewport.New(80, 20),
		width:     80,
		height:    26,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.load())
}

type sessionLoadedMsg struct {
	ui models.UIState
}

type turnProcessedMsg struct {
	res *narrator.TurnResult
	err error
}

type errMsg struct {
	err error
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			if m.state != statePlaying || m.busy {
				return m, nil
			}
			action := strings.TrimSpace(m.textInput.Value())
			if action == "" {
				return m, nil
			}
			m.textInput.Reset()
			m.notice = ""

			switch action {
			case "/quit":
				return m, tea.Quit
			case "/reset":
				m.sessions.Reset(m.slot)
				m.state = stateLoading
				m.gameLog = ""
				return m, m.load()
			}

			m.gameLog += userStyle.Width(m.logWidth()).Render("> "+action) + "\n\n"
			m.refresh()
			m.busy = true
			return m, m.processTurn(action)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = m.logWidth()
		m.viewport.Height = msg.Height - 6
		if m.state == statePlaying {
			m.refresh()
		}

	case sessionLoadedMsg:
		m.ui = msg.ui
		m.state = statePlaying
		m.gameLog = m.renderHistory(msg.ui)
		m.refresh()
		return m, nil

	case turnProcessedMsg:
		m.busy = false
		if msg.err != nil {
			if !retryable(msg.err) {
				m.err = msg.err
				m.state = stateError
				return m, nil
			}
			m.notice = msg.err.Error()
			return m, nil
		}
		m.ui = models.NewUIState(m.slot, msg.res.Turn, msg.res.Tokens, msg.res.State)
		m.gameLog += gameStyle.Width(m.logWidth()).Render(msg.res.Narration) + "\n\n"
		m.refresh()
		return m, nil

	case errMsg:
		m.err = msg.err
		m.state = stateError
		return m, nil
	}

	if m.state == statePlaying {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	var s string

	switch m.state {
	case stateLoading:
		s = "\n  The narrator is setting the scene... please wait.\n"

	case statePlaying:
		mainView := lipgloss.JoinHorizontal(lipgloss.Top,
			m.viewport.View(),
			m.renderState(),
		)

		status := helpStyle.Render("Commands: /reset, /quit, or just type what you want to do.")
		if m.busy {
			status = helpStyle.Render("The narrator is thinking...")
		}
		if m.notice != "" {
			status = noticeStyle.Render(m.notice+" (try again)") + "\n" + status
		}

		s = lipgloss.JoinVertical(lipgloss.Left,
			mainView,
			"\n"+m.textInput.View(),
			"\n"+status,
		)

	case stateError:
		s = fmt.Sprintf("\n  Error: %v\n\nPress Esc to quit.", m.err)
	}

	return "\n" + s + "\n"
}

func (m model) logWidth() int {
	return int(float64(m.width) * 0.75)
}

func (m *model) refresh() {
	m.viewport.SetContent(m.gameLog)
	m.viewport.GotoBottom()
}

// renderHistory rebuilds the log view from a loaded session
func (m model) renderHistory(ui models.UIState) string {
	width := m.logWidth()
	var b strings.Builder
	if ui.Summary != "" {
		b.WriteString(helpStyle.Width(width).Render("Previously: " + ui.Summary))
		b.WriteString("\n\n")
	}
	for _, rec := range ui.Log {
		if rec.Player != "" {
			b.WriteString(userStyle.Width(width).Render("> " + rec.Player))
			b.WriteString("\n\n")
		}
		b.WriteString(gameStyle.Width(width).Render(rec.Narrator))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m model) renderState() string {
	ui := m.ui

	world := titleStyle.Render("WORLD") + "\n" + ui.WorldState + "\n"
	if ended(ui.WorldState) {
		world += "The story has ended.\n"
	}
	world += "\n"

	statsTitle := titleStyle.Render("STATS") + "\n"
	names := make([]string, 0, len(ui.Stats))
	for k := range ui.Stats {
		names = append(names, k)
	}
	sort.Strings(names)
	stats := ""
	for _, k := range names {
		stats += fmt.Sprintf("%s: %d\n", k, ui.Stats[k])
	}
	stats += "\n"

	invTitle := titleStyle.Render("INVENTORY") + "\n"
	inventory := ""
	if len(ui.Inventory) == 0 {
		inventory = "(empty)\n"
	} else {
		for _, item := range ui.Inventory {
			inventory += fmt.Sprintf("- %v\n", item)
		}
	}
	inventory += "\n"

	meta := fmt.Sprintf("Turn %d | %d tokens", ui.Turn, ui.Tokens)

	content := world + statsTitle + stats + invTitle + inventory + meta

	stateWidth := int(float64(m.width) * 0.23)
	return stateStyle.Width(stateWidth).Height(m.viewport.Height).Render(content)
}

func ended(worldState string) bool {
	return worldState == models.WorldGameOver || worldState == models.WorldVictory
}

// retryable reports errors that leave the session usable
func retryable(err error) bool {
	var (
		verr *narrator.ValidationError
		perr *narrator.ParseError
		prov *narrator.ProviderError
	)
	return errors.As(err, &verr) || errors.As(err, &perr) || errors.As(err, &prov)
}

func (m model) load() tea.Cmd {
	return func() tea.Msg {
		ui, err := m.sessions.Get(context.Background(), m.slot)
		if err != nil {
			return errMsg{err}
		}
		return sessionLoadedMsg{ui}
	}
}

func (m model) processTurn(action string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.sessions.Turn(context.Background(), m.slot, action)
		return turnProcessedMsg{res, err}
	}
}

func Run(sessions Sessions, slot string) error {
	p := tea.NewProgram(NewModel(sessions, slot), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
