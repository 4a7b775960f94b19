package tui

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/history"
	"github.com/johndauphine/pg-rest-mirror/internal/orchestrator"
	"gopkg.in/yaml.v3"
)

// Model is the sync console model
type Model struct {
	viewport      viewport.Model
	textInput     textinput.Model
	ready         bool
	cwd           string
	width         int
	height        int
	history       []string
	historyIdx    int
	logBuffer     string          // Persistent buffer for console output
	lineBuffer    string          // Buffer for incoming partial lines
	progressLine  string          // Current in-place progress line
	suggestions   []string        // Auto-completion suggestions
	suggestionIdx int
	lastInput     string

	// Active run state. One run at a time; the console is the
	// interactive front of a single engine.
	runState   string             // running, completed, failed, cancelled; empty = never ran
	runLabel   string
	runStarted time.Time
	runCancel  context.CancelFunc
}

type commandInfo struct {
	Name        string
	Description string
}

var availableCommands = []commandInfo{
	{"/run", "Start a sync run (default: config.yaml)"},
	{"/dryrun", "Preview the run without delivering rows"},
	{"/check", "Check source and sink connectivity"},
	{"/validate", "Compare source and sink row counts"},
	{"/status", "Show the last run and its tables"},
	{"/history", "Show recent runs (--run ID for details)"},
	{"/profile", "Manage encrypted profiles (save/list/delete/export)"},
	{"/logs", "Save session logs to file"},
	{"/about", "Show application information"},
	{"/help", "Show available commands"},
	{"/clear", "Clear screen"},
	{"/quit", "Exit application"},
}

// TickMsg refreshes the status bar clock while a run is active
type TickMsg time.Time

// OutputMsg is raw process output routed into the console viewport
type OutputMsg string

// BoxedOutputMsg is output that should be displayed in a bordered box
type BoxedOutputMsg string

// RunDoneMsg signals that the active sync run has finished
type RunDoneMsg struct {
	Status string // completed, failed, cancelled
	Output string
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// wrapLine wraps a line of text to fit within the specified width.
// It preserves word boundaries when possible.
func wrapLine(line string, width int) string {
	if width <= 0 || len(line) <= width {
		return line
	}

	var result strings.Builder
	currentLine := ""

	words := splitIntoWords(line)
	for _, word := range words {
		if len(currentLine)+len(word) > width {
			if currentLine != "" {
				result.WriteString(currentLine)
				result.WriteString("\n")
			}
			// If the word itself is longer than width, split it
			for len(word) > width {
				result.WriteString(word[:width])
				result.WriteString("\n")
				word = word[width:]
			}
			currentLine = word
		} else {
			currentLine += word
		}
	}

	if currentLine != "" {
		result.WriteString(currentLine)
	}

	return result.String()
}

// splitIntoWords splits text into words while preserving whitespace.
func splitIntoWords(s string) []string {
	var words []string
	var current strings.Builder

	for _, r := range s {
		if unicode.IsSpace(r) {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			words = append(words, string(r))
		} else {
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// InitialModel returns the initial model state
func InitialModel() Model {
	ti := textinput.New()
	ti.Placeholder = "Type a command (try /help) or @path/to/config"
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 20
	ti.Prompt = "❯ "
	ti.PromptStyle = stylePrompt

	cwd, _ := os.Getwd()

	return Model{
		textInput:  ti,
		cwd:        cwd,
		history:    []string{},
		historyIdx: -1,
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Handle suggestion navigation if active
		if len(m.suggestions) > 0 {
			switch msg.Type {
			case tea.KeyUp:
				m.suggestionIdx--
				if m.suggestionIdx < 0 {
					m.suggestionIdx = len(m.suggestions) - 1
				}
				return m, nil
			case tea.KeyDown:
				m.suggestionIdx++
				if m.suggestionIdx >= len(m.suggestions) {
					m.suggestionIdx = 0
				}
				return m, nil
			case tea.KeyEnter, tea.KeyTab:
				// Select suggestion
				if m.suggestionIdx >= 0 && m.suggestionIdx < len(m.suggestions) {
					selection := m.suggestions[m.suggestionIdx]
					// Extract actual value (first word) if it contains description
					completion := strings.Fields(selection)[0]

					input := m.textInput.Value()

					// File completion logic (@)
					if idx := strings.LastIndex(input, "@"); idx != -1 && (idx == 0 || input[idx-1] == ' ') {
						newValue := input[:idx+1] + completion

						if newValue == input && msg.Type == tea.KeyEnter {
							m.suggestions = nil
							break // Fallthrough
						}
						m.textInput.SetValue(newValue)
						m.textInput.SetCursor(len(newValue))

					} else if strings.HasPrefix(input, "/") {
						// Command completion logic
						newValue := completion

						if newValue == input && msg.Type == tea.KeyEnter {
							m.suggestions = nil
							break // Fallthrough
						}
						m.textInput.SetValue(newValue)
						m.textInput.SetCursor(len(newValue))
					}

					m.suggestions = nil
					m.suggestionIdx = 0
					return m, nil
				}
			case tea.KeyEsc:
				m.suggestions = nil
				return m, nil
			}
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			// Cancel the active run first; quit when idle
			if m.runState == "running" && m.runCancel != nil {
				m.runCancel()
				m.logBuffer += styleSystemOutput.Render("Cancelling sync run...") + "\n"
				m.viewport.SetContent(m.logBuffer)
				m.viewport.GotoBottom()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			value := m.textInput.Value()
			if value != "" {
				m.logBuffer += styleUserInput.Render("> "+value) + "\n"
				m.viewport.SetContent(m.logBuffer)
				m.viewport.GotoBottom()

				m.textInput.Reset()
				m.history = append(m.history, value)
				m.historyIdx = len(m.history)

				return m, m.handleCommand(value)
			}
		case tea.KeyTab: // Command completion
			m.autocompleteCommand()
		case tea.KeyPgUp:
			m.viewport.LineUp(m.viewport.Height / 2)
			return m, nil
		case tea.KeyPgDown:
			m.viewport.LineDown(m.viewport.Height / 2)
			return m, nil
		case tea.KeyHome:
			m.viewport.GotoTop()
			return m, nil
		case tea.KeyEnd:
			m.viewport.GotoBottom()
			return m, nil
		case tea.KeyUp:
			if m.historyIdx > 0 {
				m.historyIdx--
				m.textInput.SetValue(m.history[m.historyIdx])
			}
			return m, nil
		case tea.KeyDown:
			if m.historyIdx < len(m.history)-1 {
				m.historyIdx++
				m.textInput.SetValue(m.history[m.historyIdx])
			} else {
				m.historyIdx = len(m.history)
				m.textInput.Reset()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		headerHeight := 0
		footerHeight := 7 // Bordered input (3) + status bar (1) + separator (1) + suggestions (1) + safety (1)
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, msg.Height-verticalMarginHeight) // -2 for scrollbar
			m.viewport.YPosition = headerHeight
			// Initialize log buffer with welcome message
			m.logBuffer = m.welcomeMessage()
			m.viewport.SetContent(m.logBuffer)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = msg.Height - verticalMarginHeight
		}
		m.width = msg.Width
		m.height = msg.Height
		m.textInput.Width = msg.Width - 4

	case OutputMsg:
		m.lineBuffer += string(msg)

		// Calculate wrap width (viewport width minus prefix and margins)
		wrapWidth := m.viewport.Width - 4
		if wrapWidth < 20 {
			wrapWidth = 80 // Fallback for uninitialized viewport
		}

		// Process complete lines
		for {
			newlineIdx := strings.Index(m.lineBuffer, "\n")
			if newlineIdx == -1 {
				break
			}

			// Clear progress line when we get a complete line
			m.progressLine = ""

			line := m.lineBuffer[:newlineIdx]
			m.lineBuffer = m.lineBuffer[newlineIdx+1:]

			// Handle carriage returns (simulate line overwrite by taking last part)
			if lastCR := strings.LastIndex(line, "\r"); lastCR != -1 {
				line = line[lastCR+1:]
			}
			if line == "" {
				continue
			}

			// Wrap long lines before styling
			wrappedLines := strings.Split(wrapLine(line, wrapWidth), "\n")
			for _, wrappedLine := range wrappedLines {
				lowerText := strings.ToLower(line)
				prefix := "  "

				isError := strings.Contains(lowerText, "error") ||
					(strings.Contains(lowerText, "fail") && !strings.Contains(lowerText, "0 failed"))

				if isError {
					wrappedLine = styleError.Render(wrappedLine)
					prefix = styleError.Render("✖ ")
				} else if strings.Contains(lowerText, "success") || strings.Contains(lowerText, "passed") || strings.Contains(lowerText, "complete") {
					wrappedLine = styleSuccess.Render(wrappedLine)
					prefix = styleSuccess.Render("✔ ")
				} else {
					wrappedLine = styleSystemOutput.Render(wrappedLine)
				}

				m.logBuffer += prefix + wrappedLine + "\n"
			}
		}

		// Check for progress bar updates (lines with \r but no \n).
		// These are in-place updates like the row counter.
		if strings.Contains(m.lineBuffer, "\r") {
			if lastCR := strings.LastIndex(m.lineBuffer, "\r"); lastCR != -1 {
				m.progressLine = strings.TrimSpace(m.lineBuffer[lastCR+1:])
				m.lineBuffer = m.lineBuffer[:lastCR+1]
			}
		}

		content := m.logBuffer
		if m.progressLine != "" {
			content += styleSystemOutput.Render("  "+m.progressLine) + "\n"
		}
		m.viewport.SetContent(content)
		m.viewport.GotoBottom()

	case BoxedOutputMsg:
		output := strings.TrimSpace(string(msg))
		if output == "" {
			break
		}

		boxWidth := m.viewport.Width - 4
		if boxWidth < 40 {
			boxWidth = 80
		}

		m.logBuffer += styleOutputBox.Width(boxWidth).Render(output) + "\n"
		m.viewport.SetContent(m.logBuffer)
		m.viewport.GotoBottom()

	case RunDoneMsg:
		m.runState = msg.Status
		m.runCancel = nil
		m.progressLine = ""

		if msg.Output != "" {
			prefix := styleSuccess.Render("✔ ")
			if msg.Status != "completed" {
				prefix = styleError.Render("✖ ")
			}
			m.logBuffer += prefix + strings.TrimRight(msg.Output, "\n") + "\n"
		}
		m.viewport.SetContent(m.logBuffer)
		m.viewport.GotoBottom()

	case TickMsg:
		// The status bar shows elapsed time while syncing
		return m, tickCmd()
	}

	m.textInput, tiCmd = m.textInput.Update(msg)

	// Handle auto-completion suggestions
	input := m.textInput.Value()
	if input != m.lastInput {
		m.lastInput = input
		m.suggestions = nil // Reset first

		// File completion (@)
		if idx := strings.LastIndex(input, "@"); idx != -1 {
			// Only trigger if @ is start of input or preceded by space
			if idx == 0 || input[idx-1] == ' ' {
				prefix := input[idx+1:]
				matches, err := filepath.Glob(prefix + "*")
				if err == nil {
					if len(matches) > 15 {
						matches = matches[:15]
					}
					m.suggestions = matches
					m.suggestionIdx = 0
				}
			}
		}
		// Command completion (/)
		if len(m.suggestions) == 0 && strings.HasPrefix(input, "/") {
			for _, cmd := range availableCommands {
				if strings.HasPrefix(cmd.Name, input) {
					m.suggestions = append(m.suggestions, fmt.Sprintf("%-10s %s", cmd.Name, cmd.Description))
				}
			}
			if len(m.suggestions) > 0 {
				m.suggestionIdx = 0
			}
		}
	}

	// Up/Down drive input history, not the viewport
	handleViewport := true
	if key, ok := msg.(tea.KeyMsg); ok {
		if key.Type == tea.KeyUp || key.Type == tea.KeyDown {
			handleViewport = false
		}
	}

	if handleViewport {
		m.viewport, vpCmd = m.viewport.Update(msg)
	}

	return m, tea.Batch(tiCmd, vpCmd)
}

// autocompleteCommand attempts to complete the current input
func (m *Model) autocompleteCommand() {
	input := m.textInput.Value()

	// File completion
	if idx := strings.LastIndex(input, "@"); idx != -1 {
		prefix := input[idx+1:]
		matches, err := filepath.Glob(prefix + "*")
		if err == nil && len(matches) > 0 {
			completion := matches[0]
			newValue := input[:idx+1] + completion
			m.textInput.SetValue(newValue)
			m.textInput.SetCursor(len(newValue))
			m.suggestions = nil
			return
		}
	}

	for _, cmd := range availableCommands {
		if strings.HasPrefix(cmd.Name, input) {
			m.textInput.SetValue(cmd.Name)
			m.textInput.SetCursor(len(cmd.Name))
			return
		}
	}
}

// View renders the console
func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	suggestionsView := ""
	if len(m.suggestions) > 0 {
		var lines []string
		for i, s := range m.suggestions {
			style := lipgloss.NewStyle().Foreground(colorGray).PaddingLeft(2)
			if i == m.suggestionIdx {
				style = lipgloss.NewStyle().
					Foreground(colorWhite).
					Background(colorPurple).
					PaddingLeft(2).
					PaddingRight(2).
					Bold(true)
			}
			lines = append(lines, style.Render(s))
		}
		suggestionsView = strings.Join(lines, "\n") + "\n"
	}

	viewport := styleViewport.Width(m.viewport.Width + 2).Render(m.viewport.View())
	return fmt.Sprintf("%s\n%s\n%s%s",
		viewport,
		styleInputContainer.Width(m.width-2).Render(m.textInput.View()),
		suggestionsView,
		m.statusBarView(),
	)
}

func (m Model) statusBarView() string {
	w := lipgloss.Width

	dir := styleStatusDir.Render(m.cwd)
	app := styleStatusApp.Render("pg-rest-mirror")

	var state string
	switch m.runState {
	case "running":
		elapsed := time.Since(m.runStarted).Round(time.Second)
		state = styleStatusRunning.Render(fmt.Sprintf("Syncing %s (%s)", m.runLabel, elapsed))
	case "completed":
		state = styleStatusOK.Render("Last run completed")
	case "failed":
		state = styleStatusFail.Render("Last run failed")
	case "cancelled":
		state = styleStatusFail.Render("Last run cancelled")
	default:
		state = styleStatusIdle.Render("Idle")
	}

	usedWidth := w(dir) + w(app) + w(state)
	if usedWidth > m.width {
		usedWidth = m.width
	}

	spacerWidth := m.width - usedWidth
	if spacerWidth < 0 {
		spacerWidth = 0
	}
	spacer := styleStatusBar.Width(spacerWidth).Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top,
		dir,
		app,
		spacer,
		state,
	)
}

func (m Model) welcomeMessage() string {
	logo := `
  __  __  ___  ____   ____    ___   ____
 |  \/  ||_ _||  _ \ |  _ \  / _ \ |  _ \
 | |\/| | | | | |_) || |_) || | | || |_) |
 | |  | | | | |  _ < |  _ < | |_| ||  _ <
 |_|  |_||___||_| \_\|_| \_\ \___/ |_| \_\
  PG-REST-MIRROR INTERACTIVE CONSOLE
`

	welcome := styleTitle.Render(logo)

	body := `
 Welcome to the sync console. This tool mirrors tables from a
 relational source database into a Supabase/PostgREST sink.

 Type /help to see available commands.
`

	tips := lipgloss.NewStyle().Foreground(colorGray).Render(`
 Tip: /dryrun shows the plan without delivering any rows.
      Hold Shift to select text with mouse.`)

	return welcome + body + tips
}

func (m *Model) handleCommand(cmdStr string) tea.Cmd {
	parts := strings.Fields(cmdStr)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]

	// Handle shell commands (starting with !)
	if strings.HasPrefix(cmd, "!") {
		shellCmd := strings.TrimPrefix(cmdStr, "!")
		return m.runShellCmd(shellCmd)
	}

	switch cmd {
	case "/quit", "/exit":
		return tea.Quit

	case "/clear":
		m.logBuffer = m.welcomeMessage()
		m.viewport.SetContent(m.logBuffer)
		return nil

	case "/help":
		help := `Available Commands:
  /run [config_file]    Start a sync run (default: config.yaml)
  /run --profile NAME   Start a sync run from a saved profile
  /dryrun [config_file] Preview row counts and batches, deliver nothing
  /check                Check source and sink connectivity
  /validate             Compare source and sink row counts
  /status               Show the last run and its tables
  /history [--run ID]   Show recent runs, or one run's tables
  /profile save NAME    Save an encrypted profile
  /profile list         List saved profiles
  /profile delete NAME  Delete a saved profile
  /profile export NAME  Export a profile to a config file
  /logs                 Save session logs to a file
  /clear                Clear screen
  /quit                 Exit application
  !<command>            Run a shell command

Note: You can use @/path/to/file for config files.`
		return func() tea.Msg { return BoxedOutputMsg(help) }

	case "/logs":
		logFile := "session.log"
		if err := os.WriteFile(logFile, []byte(m.logBuffer), 0644); err != nil {
			return func() tea.Msg { return OutputMsg(fmt.Sprintf("Error saving logs: %v\n", err)) }
		}
		return func() tea.Msg { return OutputMsg(fmt.Sprintf("Logs saved to %s\n", logFile)) }

	case "/about":
		about := `PG-REST-MIRROR v1.4.0

One-way sync from a relational database into a Supabase/PostgREST
sink: run per-table extraction queries, upsert the rows in batches,
then delete sink rows the source no longer has.

Features:
- One-shot runs for cron and Airflow scheduling
- Batched upserts with bounded retries
- Orphan reconciliation, composite keys included
- Row count validation

Built with Go and Bubble Tea.`
		return func() tea.Msg { return BoxedOutputMsg(about) }

	case "/run":
		if m.runState == "running" {
			return func() tea.Msg { return OutputMsg("A sync run is already active\n") }
		}
		configFile, profileName := parseConfigArgs(parts)
		label := configFile
		if profileName != "" {
			label = profileName
		}

		ctx, cancel := context.WithCancel(context.Background())
		m.runState = "running"
		m.runLabel = label
		m.runStarted = time.Now()
		m.runCancel = cancel
		return m.startRunCmd(ctx, configFile, profileName, label)

	case "/dryrun":
		configFile, profileName := parseConfigArgs(parts)
		return m.dryRunCmd(configFile, profileName)

	case "/check":
		configFile, profileName := parseConfigArgs(parts)
		return m.checkCmd(configFile, profileName)

	case "/validate":
		configFile, profileName := parseConfigArgs(parts)
		return m.validateCmd(configFile, profileName)

	case "/status":
		configFile, profileName := parseConfigArgs(parts)
		return m.statusCmd(configFile, profileName)

	case "/history":
		configFile, profileName, runID := parseHistoryArgs(parts)
		return m.historyCmd(configFile, profileName, runID)

	case "/profile":
		return m.handleProfileCommand(parts)

	default:
		return func() tea.Msg { return OutputMsg("Unknown command: " + cmd + "\n") }
	}
}

// Wrappers for Orchestrator actions

// startRunCmd launches a sync run in the background. Log output
// reaches the viewport through the process-wide capture, so only the
// final outcome is reported here.
func (m Model) startRunCmd(ctx context.Context, configFile, profileName, label string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return RunDoneMsg{Status: "failed", Output: "Internal error: no program reference\n"}
		}

		p.Send(OutputMsg(fmt.Sprintf("Starting sync with %s\n", label)))

		// Run asynchronously in a goroutine to avoid blocking the UI
		go func() {
			cfg, err := loadConfigFromOrigin(configFile, profileName)
			if err != nil {
				p.Send(RunDoneMsg{Status: "failed", Output: fmt.Sprintf("Error loading config: %v\n", err)})
				return
			}

			orch, err := orchestrator.New(ctx, cfg)
			if err != nil {
				p.Send(RunDoneMsg{Status: "failed", Output: fmt.Sprintf("Error initializing sync: %v\n", err)})
				return
			}
			defer orch.Close()

			report, runErr := orch.Run(ctx)
			if runErr != nil {
				p.Send(RunDoneMsg{Status: "failed", Output: fmt.Sprintf("Sync failed: %v\n", runErr)})
				return
			}

			switch report.Outcome {
			case orchestrator.OutcomeSuccess:
				p.Send(RunDoneMsg{
					Status: "completed",
					Output: fmt.Sprintf("Sync %s completed: %d rows across %d tables\n", report.RunID, report.RowsDelivered, report.TablesSynced),
				})
			case orchestrator.OutcomePartial:
				p.Send(RunDoneMsg{
					Status: "failed",
					Output: fmt.Sprintf("Sync %s finished with failures: %s\n", report.RunID, strings.Join(report.FailedTables, ", ")),
				})
			default:
				p.Send(RunDoneMsg{Status: "cancelled", Output: fmt.Sprintf("Sync %s aborted\n", report.RunID)})
			}
		}()

		// Return immediately to keep UI responsive
		return nil
	}
}

func (m Model) dryRunCmd(configFile, profileName string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			cfg, err := loadConfigFromOrigin(configFile, profileName)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error: %v\n", err)))
				return
			}
			orch, err := orchestrator.New(context.Background(), cfg)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error: %v\n", err)))
				return
			}
			defer orch.Close()

			output, err := CaptureToString(func() error {
				res, err := orch.DryRun(context.Background())
				if err != nil {
					return err
				}
				orch.ShowDryRun(res)
				return nil
			})
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Dry run failed: %v\n", err)))
				return
			}
			p.Send(BoxedOutputMsg(output))
		}()

		return nil
	}
}

func (m Model) checkCmd(configFile, profileName string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			cfg, err := loadConfigFromOrigin(configFile, profileName)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error: %v\n", err)))
				return
			}
			orch, err := orchestrator.New(context.Background(), cfg)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error: %v\n", err)))
				return
			}
			defer orch.Close()

			output, err := CaptureToString(func() error {
				res, err := orch.HealthCheck(context.Background())
				if err != nil {
					return err
				}
				orch.ShowHealthCheck(res)
				return nil
			})
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Check failed: %v\n", err)))
				return
			}
			p.Send(BoxedOutputMsg(output))
		}()

		return nil
	}
}

func (m Model) validateCmd(configFile, profileName string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			origin := "config: " + configFile
			if profileName != "" {
				origin = "profile: " + profileName
			}
			out := fmt.Sprintf("Validating with %s\n", origin)
			cfg, err := loadConfigFromOrigin(configFile, profileName)
			if err != nil {
				p.Send(OutputMsg(out + fmt.Sprintf("Error: %v\n", err)))
				return
			}
			orch, err := orchestrator.New(context.Background(), cfg)
			if err != nil {
				p.Send(OutputMsg(out + fmt.Sprintf("Error: %v\n", err)))
				return
			}
			defer orch.Close()

			if _, err := orch.Validate(context.Background()); err != nil {
				p.Send(OutputMsg(out + fmt.Sprintf("Validation failed: %v\n", err)))
				return
			}
			p.Send(OutputMsg(out + "Validation passed!\n"))
		}()

		return nil
	}
}

func (m Model) statusCmd(configFile, profileName string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			cfg, err := loadConfigFromOrigin(configFile, profileName)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error: %v\n", err)))
				return
			}
			orch, err := orchestrator.New(context.Background(), cfg)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error: %v\n", err)))
				return
			}
			defer orch.Close()

			output, err := CaptureToString(orch.ShowStatus)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error showing status: %v\n", err)))
				return
			}
			p.Send(BoxedOutputMsg(output))
		}()

		return nil
	}
}

func (m Model) historyCmd(configFile, profileName, runID string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			cfg, err := loadConfigFromOrigin(configFile, profileName)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error: %v\n", err)))
				return
			}
			orch, err := orchestrator.New(context.Background(), cfg)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error: %v\n", err)))
				return
			}
			defer orch.Close()

			var output string
			if runID != "" {
				output, err = CaptureToString(func() error { return orch.ShowRunDetails(runID) })
				if err != nil {
					p.Send(OutputMsg(fmt.Sprintf("Error showing run details: %v\n", err)))
					return
				}
			} else {
				output, err = CaptureToString(func() error { return orch.ShowHistory(20) })
				if err != nil {
					p.Send(OutputMsg(fmt.Sprintf("Error showing history: %v\n", err)))
					return
				}
			}
			p.Send(BoxedOutputMsg(output))
		}()

		return nil
	}
}

func (m Model) runShellCmd(shellCmd string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			cmd := exec.Command("sh", "-c", shellCmd)
			output, err := cmd.CombinedOutput()
			if err != nil {
				p.Send(BoxedOutputMsg(fmt.Sprintf("%s\nError: %v", string(output), err)))
				return
			}
			p.Send(BoxedOutputMsg(string(output)))
		}()

		return nil
	}
}

func (m Model) handleProfileCommand(parts []string) tea.Cmd {
	if len(parts) < 2 {
		return func() tea.Msg { return OutputMsg("Usage: /profile save|list|delete|export\n") }
	}

	action := parts[1]
	switch action {
	case "list":
		return m.profileListCmd()
	case "save":
		if len(parts) < 3 {
			return func() tea.Msg { return OutputMsg("Usage: /profile save NAME [config_file]\n") }
		}
		// Name may be omitted when the config file carries one
		name, configFile := parseProfileSaveArgs(parts)
		return m.profileSaveCmd(name, configFile)
	case "delete":
		if len(parts) < 3 {
			return func() tea.Msg { return OutputMsg("Usage: /profile delete NAME\n") }
		}
		return m.profileDeleteCmd(parts[2])
	case "export":
		name, outFile := parseProfileExportArgs(parts)
		if name == "" {
			return func() tea.Msg { return OutputMsg("Usage: /profile export NAME [output_file]\n") }
		}
		return m.profileExportCmd(name, outFile)
	default:
		return func() tea.Msg { return OutputMsg("Unknown profile command: " + action + "\n") }
	}
}

func parseConfigArgs(parts []string) (string, string) {
	configFile := "config.yaml"
	profileName := ""

	for i := 1; i < len(parts); i++ {
		arg := parts[i]
		if arg == "--profile" && i+1 < len(parts) {
			profileName = parts[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "@") {
			configFile = arg[1:]
		} else {
			configFile = arg
		}
	}

	return configFile, profileName
}

func parseHistoryArgs(parts []string) (string, string, string) {
	configFile := "config.yaml"
	profileName := ""
	runID := ""

	for i := 1; i < len(parts); i++ {
		arg := parts[i]
		switch arg {
		case "--run":
			if i+1 < len(parts) {
				runID = parts[i+1]
				i++
			}
		case "--profile":
			if i+1 < len(parts) {
				profileName = parts[i+1]
				i++
			}
		default:
			if strings.HasPrefix(arg, "@") {
				configFile = arg[1:]
			} else {
				configFile = arg
			}
		}
	}

	return configFile, profileName, runID
}

func parseProfileSaveArgs(parts []string) (string, string) {
	if len(parts) < 3 {
		return "", "config.yaml"
	}

	name := ""
	configFile := "config.yaml"

	if strings.HasPrefix(parts[2], "@") {
		configFile = parts[2][1:]
	} else {
		name = parts[2]
	}

	if len(parts) > 3 {
		if strings.HasPrefix(parts[3], "@") {
			configFile = parts[3][1:]
		} else {
			configFile = parts[3]
		}
	}

	return name, configFile
}

func parseProfileExportArgs(parts []string) (string, string) {
	if len(parts) < 3 {
		return "", "config.yaml"
	}
	name := parts[2]
	outFile := "config.yaml"
	if len(parts) > 3 {
		if strings.HasPrefix(parts[3], "@") {
			outFile = parts[3][1:]
		} else {
			outFile = parts[3]
		}
	}
	return name, outFile
}

func loadConfigFromOrigin(configFile, profileName string) (*config.Config, error) {
	if profileName != "" {
		return loadProfileConfig(profileName)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configFile)
	}
	return config.Load(configFile)
}

func loadProfileConfig(name string) (*config.Config, error) {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return nil, err
	}
	state, err := history.New(dataDir)
	if err != nil {
		return nil, err
	}
	defer state.Close()

	blob, err := state.GetProfile(name)
	if err != nil {
		return nil, err
	}
	return config.LoadBytes(blob)
}

func (m Model) profileSaveCmd(name, configFile string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			cfg, err := config.Load(configFile)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error loading config: %v\n", err)))
				return
			}
			if name == "" {
				if cfg.Profile.Name != "" {
					name = cfg.Profile.Name
				} else {
					base := filepath.Base(configFile)
					name = strings.TrimSuffix(base, filepath.Ext(base))
				}
			}
			payload, err := yaml.Marshal(cfg)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error encoding config: %v\n", err)))
				return
			}

			dataDir, err := config.DefaultDataDir()
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error resolving data dir: %v\n", err)))
				return
			}
			state, err := history.New(dataDir)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error opening profile store: %v\n", err)))
				return
			}
			defer state.Close()

			if err := state.SaveProfile(name, cfg.Profile.Description, payload); err != nil {
				if strings.Contains(err.Error(), "PG_REST_MIRROR_MASTER_KEY is not set") {
					p.Send(OutputMsg("Error saving profile: PG_REST_MIRROR_MASTER_KEY is not set. Start the console with the env var set.\n"))
					return
				}
				p.Send(OutputMsg(fmt.Sprintf("Error saving profile: %v\n", err)))
				return
			}
			p.Send(OutputMsg(fmt.Sprintf("Saved profile %q\n", name)))
		}()

		return nil
	}
}

func (m Model) profileListCmd() tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			dataDir, err := config.DefaultDataDir()
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error resolving data dir: %v\n", err)))
				return
			}
			state, err := history.New(dataDir)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error opening profile store: %v\n", err)))
				return
			}
			defer state.Close()

			profiles, err := state.ListProfiles()
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error listing profiles: %v\n", err)))
				return
			}
			if len(profiles) == 0 {
				p.Send(BoxedOutputMsg("No profiles found"))
				return
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%-20s %-40s %-20s %-20s\n", "Name", "Description", "Created", "Updated")
			for _, prof := range profiles {
				desc := strings.ReplaceAll(strings.TrimSpace(prof.Description), "\n", " ")
				fmt.Fprintf(&b, "%-20s %-40s %-20s %-20s\n",
					prof.Name,
					desc,
					prof.CreatedAt.Format("2006-01-02 15:04:05"),
					prof.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			p.Send(BoxedOutputMsg(b.String()))
		}()

		return nil
	}
}

func (m Model) profileDeleteCmd(name string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			dataDir, err := config.DefaultDataDir()
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error resolving data dir: %v\n", err)))
				return
			}
			state, err := history.New(dataDir)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error opening profile store: %v\n", err)))
				return
			}
			defer state.Close()

			if err := state.DeleteProfile(name); err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error deleting profile: %v\n", err)))
				return
			}
			p.Send(OutputMsg(fmt.Sprintf("Deleted profile %q\n", name)))
		}()

		return nil
	}
}

func (m Model) profileExportCmd(name, outFile string) tea.Cmd {
	return func() tea.Msg {
		p := GetProgramRef()
		if p == nil {
			return OutputMsg("Internal error: no program reference\n")
		}

		go func() {
			dataDir, err := config.DefaultDataDir()
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error resolving data dir: %v\n", err)))
				return
			}
			state, err := history.New(dataDir)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error opening profile store: %v\n", err)))
				return
			}
			defer state.Close()

			blob, err := state.GetProfile(name)
			if err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error loading profile: %v\n", err)))
				return
			}
			if err := os.WriteFile(outFile, blob, 0600); err != nil {
				p.Send(OutputMsg(fmt.Sprintf("Error exporting profile: %v\n", err)))
				return
			}
			p.Send(OutputMsg(fmt.Sprintf("Exported profile %q to %s\n", name, outFile)))
		}()

		return nil
	}
}

// Start launches the interactive console.
func Start() error {
	m := InitialModel()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())

	// Store program reference for command goroutines
	SetProgramRef(p)

	// Route log output into the console for the whole session
	cleanup := CaptureOutput(p)
	defer cleanup()

	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
