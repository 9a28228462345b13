package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/worldkeeper/worldkeeper/pkg/chatlog"
	"github.com/worldkeeper/worldkeeper/pkg/lifecycle"
)

// Source is what the dashboard reads from and the one thing it writes to.
type Source interface {
	Status(ctx context.Context) lifecycle.Status
	Info(ctx context.Context) lifecycle.Info
	Chat(ctx context.Context, lines int) (chatlog.History, error)
	Say(ctx context.Context, message string) error
}

const (
	chatLines       = 100
	chatPanelRows   = 8
	refreshInterval = 2 * time.Second
	requestTimeout  = 5 * time.Second
)

// App is the TUI application state
type App struct {
	source       Source
	status       *lifecycle.Status
	info         *lifecycle.Info
	chat         []chatlog.Message
	chatPosition int
	err          error
	lastUpdate   time.Time
	quitting     bool
	autoRefresh  bool

	inputText    string
	sending      bool
	sendingError error
}

// NewApp creates a new TUI application
func NewApp(source Source) *App {
	return &App{
		source:      source,
		chat:        make([]chatlog.Message, 0),
		autoRefresh: true,
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("cyan")).
			Bold(true).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Padding(0, 1)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("blue"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(0, 1)

	userMsgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("blue")).
			Padding(0, 1)

	serverMsgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("magenta")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("white")).
			Background(lipgloss.Color("blue")).
			Padding(0, 1)
)

// Messages
type statusRefreshMsg struct {
	status lifecycle.Status
	info   lifecycle.Info
}

type chatRefreshMsg struct {
	history chatlog.History
	err     error
}

type tickMsg time.Time

type messageSentMsg struct {
	message string
	err     error
}

// Init initializes the application
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.refreshStatusCmd(),
		a.refreshChatCmd(),
		a.tick(),
	)
}

// Update handles messages and updates state
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			a.quitting = true
			return a, tea.Quit

		case tea.KeyEnter:
			if strings.TrimSpace(a.inputText) != "" && !a.sending {
				return a, a.sendMessage()
			}
			return a, nil

		case tea.KeyBackspace, tea.KeyCtrlH:
			if a.inputText != "" {
				r := []rune(a.inputText)
				a.inputText = string(r[:len(r)-1])
			}
			return a, nil

		case tea.KeyCtrlU:
			a.inputText = ""
			return a, nil

		case tea.KeyCtrlR:
			return a, tea.Batch(a.refreshStatusCmd(), a.refreshChatCmd())

		case tea.KeyUp:
			if a.chatPosition > min(chatPanelRows, len(a.chat)) {
				a.chatPosition--
			}
			return a, nil

		case tea.KeyDown:
			if a.chatPosition < len(a.chat) {
				a.chatPosition++
			}
			return a, nil

		case tea.KeyCtrlA:
			// Toggle auto-refresh
			a.autoRefresh = !a.autoRefresh
			if a.autoRefresh {
				return a, a.tick()
			}
			return a, nil

		case tea.KeyRunes, tea.KeySpace:
			// q quits only while nothing is typed, so players named q* stay reachable.
			if a.inputText == "" && msg.String() == "q" {
				a.quitting = true
				return a, tea.Quit
			}
			if !a.sending {
				for _, r := range msg.Runes {
					if r >= 32 && r != 127 {
						a.inputText += string(r)
					}
				}
			}
			return a, nil
		}

	case statusRefreshMsg:
		a.status = &msg.status
		a.info = &msg.info
		a.lastUpdate = msg.info.QueriedAt
		if a.lastUpdate.IsZero() {
			a.lastUpdate = time.Now()
		}
		return a, nil

	case chatRefreshMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.err = nil
		follow := a.chatPosition >= len(a.chat)
		a.chat = msg.history.Messages
		if follow || a.chatPosition > len(a.chat) {
			a.chatPosition = len(a.chat)
		}
		return a, nil

	case tickMsg:
		if !a.quitting && a.autoRefresh {
			return a, tea.Batch(a.refreshStatusCmd(), a.refreshChatCmd(), a.tick())
		}
		return a, nil

	case messageSentMsg:
		a.sending = false
		if msg.err != nil {
			a.sendingError = msg.err
			return a, nil
		}
		a.inputText = ""
		a.sendingError = nil
		return a, a.refreshChatCmd()
	}

	return a, nil
}

// View renders the UI
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("worldkeeper"))
	b.WriteString("\n\n")

	switch {
	case a.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Chat Error: %s", a.err.Error())))
	case a.status == nil:
		b.WriteString(statusStyle.Render("Loading..."))
	default:
		updated := fmt.Sprintf("Last Update: %s", a.lastUpdate.Format("15:04:05"))
		if !a.autoRefresh {
			b.WriteString(pausedStyle.Render(updated + " (auto-refresh off)"))
		} else {
			b.WriteString(statusStyle.Render(updated))
		}
	}
	b.WriteString("\n\n")

	if a.status != nil {
		b.WriteString(a.renderStatusPanel())
		b.WriteString("\n")
		b.WriteString(a.renderPlayersPanel())
		b.WriteString("\n")
	}

	b.WriteString(a.renderChatPanel())
	b.WriteString("\n")
	b.WriteString(a.renderInputBox())
	b.WriteString("\n\n")
	b.WriteString(a.renderHelp())

	return b.String()
}

func (a *App) renderStatusPanel() string {
	var b strings.Builder
	s := a.status

	b.WriteString(titleStyle.Render("Server"))
	b.WriteString("\n")

	if s.ServerName != "" {
		b.WriteString(statusStyle.Render(fmt.Sprintf("Name: %s", s.ServerName)))
		b.WriteString("\n")
	}

	phaseStyle := statusStyle
	switch s.Phase {
	case lifecycle.PhaseStarting, lifecycle.PhaseStopping, lifecycle.PhaseRestarting:
		phaseStyle = pausedStyle
	case lifecycle.PhaseStopped:
		phaseStyle = errorStyle
	}
	b.WriteString(phaseStyle.Render(fmt.Sprintf("Phase: %s", s.Phase)))
	b.WriteString("\n")

	container := fmt.Sprintf("Container: %s (%s)", s.Container.Name, s.Container.Status)
	if s.ContainerError != "" {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Container: %s", s.ContainerError)))
	} else {
		b.WriteString(statusStyle.Render(container))
	}
	b.WriteString("\n")

	if len(s.Container.Ports) > 0 {
		ports := make([]string, 0, len(s.Container.Ports))
		for _, p := range s.Container.Ports {
			ports = append(ports, p.String())
		}
		b.WriteString(statusStyle.Render(fmt.Sprintf("Ports: %s", strings.Join(ports, ", "))))
		b.WriteString("\n")
	}

	if s.SessionBranch != "" {
		b.WriteString(statusStyle.Render(fmt.Sprintf("Session: %s", s.SessionBranch)))
		b.WriteString("\n")
	}
	if !s.LastBackup.IsZero() {
		b.WriteString(statusStyle.Render(fmt.Sprintf("Last Backup: %s",
			s.LastBackup.Local().Format("2006-01-02 15:04:05"))))
		b.WriteString("\n")
	}
	if s.Sync.LastPushError != "" {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Push Error: %s", truncate(s.Sync.LastPushError, 60))))
		b.WriteString("\n")
	}

	return borderStyle.Width(80).Render(b.String())
}

func (a *App) renderPlayersPanel() string {
	var b strings.Builder
	info := a.info

	b.WriteString(titleStyle.Render("Players"))
	b.WriteString("\n")

	switch {
	case info == nil:
		b.WriteString(statusStyle.Render("No data"))
	case !info.QueryOK:
		msg := "unknown"
		if info.Error != "" {
			msg = "unknown: " + info.Error
		}
		b.WriteString(pausedStyle.Render(truncate(msg, 70)))
	case info.Count == 0:
		b.WriteString(statusStyle.Render(fmt.Sprintf("Online: 0/%d", info.Max)))
	default:
		b.WriteString(statusStyle.Render(fmt.Sprintf("Online: %d/%d", info.Count, info.Max)))
		b.WriteString("\n")
		b.WriteString(userMsgStyle.Render(truncate(strings.Join(info.Users, ", "), 70)))
	}
	b.WriteString("\n")

	return borderStyle.Width(80).Render(b.String())
}

func (a *App) renderChatPanel() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Chat"))
	b.WriteString("\n")

	if len(a.chat) == 0 {
		b.WriteString(statusStyle.Render("No chat yet"))
		b.WriteString("\n")
	} else {
		end := a.chatPosition
		if end > len(a.chat) {
			end = len(a.chat)
		}
		start := end - chatPanelRows
		if start < 0 {
			start = 0
		}

		for i := start; i < end; i++ {
			m := a.chat[i]
			style := userMsgStyle
			if m.User == "Server" {
				style = serverMsgStyle
			}
			line := fmt.Sprintf("<%s> %s", m.User, m.Text)
			if m.TS != "" {
				line = fmt.Sprintf("[%s] %s", m.TS, line)
			}
			b.WriteString(style.Render(truncate(line, 74)))
			b.WriteString("\n")
		}

		if len(a.chat) > chatPanelRows {
			b.WriteString(helpStyle.Render(fmt.Sprintf("Showing %d-%d of %d messages (use ↑/↓ to scroll)",
				start+1, end, len(a.chat))))
			b.WriteString("\n")
		}
	}

	return borderStyle.Width(80).Height(chatPanelRows + 3).Render(b.String())
}

func (a *App) renderInputBox() string {
	prefix := "Say: "
	if a.sending {
		prefix = "Sending... "
	}

	displayText := a.inputText
	if len(displayText) > 70 {
		displayText = "..." + displayText[len(displayText)-67:]
	}

	return inputStyle.Render(prefix + displayText + "_")
}

func (a *App) renderHelp() string {
	inputState := ""
	if a.sending {
		inputState = " [Sending...]"
	} else if a.sendingError != nil {
		inputState = fmt.Sprintf(" [Send Failed: %s]", truncate(a.sendingError.Error(), 40))
	}

	help := fmt.Sprintf("Commands: [Enter] Say%s | [Ctrl+R] Refresh | [Ctrl+A] Toggle Auto-Refresh | [↑/↓] Scroll Chat | [Ctrl+U] Clear Input | [q] Quit",
		inputState)
	return helpStyle.Render(help)
}

// Commands
func (a *App) refreshStatusCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return statusRefreshMsg{status: a.source.Status(ctx), info: a.source.Info(ctx)}
	}
}

func (a *App) refreshChatCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		history, err := a.source.Chat(ctx, chatLines)
		return chatRefreshMsg{history: history, err: err}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) sendMessage() tea.Cmd {
	message := strings.TrimSpace(a.inputText)
	if message == "" {
		return nil
	}

	a.sending = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return messageSentMsg{message: message, err: a.source.Say(ctx, message)}
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
