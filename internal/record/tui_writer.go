package record

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"dronetrack-rl/internal/config"
	"dronetrack-rl/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a step log line for the viewport.
type logMsg struct{ line string }

// episodeMsg carries a finished episode.
type episodeMsg struct {
	line string
	row  telemetry.EpisodeRow
}

// adminMsg reports display server status.
type adminMsg struct{ active bool }

const (
	maxLogLines         = 1000
	maxSectionHeightPct = 0.3
	rewardHistoryLen    = 10
)

// TUIWriter renders episode telemetry using a bubbletea TUI.
type TUIWriter struct {
	program       teaProgram
	episodeColors map[string]string
	colorIdx      int
	done          chan struct{}
	sendSignal    atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
// Quitting the TUI interrupts the process.
func NewTUIWriter(cfg *config.EnvConfig) *TUIWriter {
	w := &TUIWriter{episodeColors: make(map[string]string), done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

func (w *TUIWriter) getEpisodeColor(id string) string {
	if c, ok := w.episodeColors[id]; ok {
		return c
	}
	c := episodePalette[w.colorIdx%len(episodePalette)]
	w.episodeColors[id] = c
	w.colorIdx++
	return c
}

// WriteStep implements StepWriter.
func (w *TUIWriter) WriteStep(row telemetry.StepRow) error {
	eColor := w.getEpisodeColor(row.EpisodeID)
	rewardColor := colorGreen
	if row.Reward < 0 {
		rewardColor = colorRed
	}
	line := fmt.Sprintf("%s[%s]%s %sepisode=%s%s %sstep=%d%s %sreward=%.3f%s %sdist=%.2f%s %spos=(%.2f,%.2f,%.2f)%s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		eColor, shortID(row.EpisodeID), colorReset,
		colorBlue, row.Step, colorReset,
		rewardColor, row.Reward, colorReset,
		colorYellow, row.Distance, colorReset,
		colorCyan, row.AgentX, row.AgentY, row.AgentZ, colorReset,
	)
	if row.Detected {
		line += fmt.Sprintf(" %sbbox=(%.2f,%.2f,%.2f,%.2f)%s", colorMagenta, row.BBoxX, row.BBoxY, row.BBoxW, row.BBoxH, colorReset)
	}
	if row.Collided {
		line += fmt.Sprintf(" %scollision%s", colorRed, colorReset)
	}
	w.program.Send(logMsg{line: line})
	return nil
}

// WriteSteps outputs multiple step rows.
func (w *TUIWriter) WriteSteps(rows []telemetry.StepRow) error {
	for _, r := range rows {
		_ = w.WriteStep(r)
	}
	return nil
}

// WriteEpisode implements EpisodeWriter.
func (w *TUIWriter) WriteEpisode(row telemetry.EpisodeRow) error {
	outcomeColor := colorRed
	switch row.Outcome {
	case telemetry.OutcomeSuccess:
		outcomeColor = colorGreen
	case telemetry.OutcomeLostTarget, telemetry.OutcomeTruncated:
		outcomeColor = colorYellow
	}
	line := fmt.Sprintf("%s[%s]%s %sepisode=%s%s %ssteps=%d%s %sreward=%.2f%s %soutcome=%s%s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		w.getEpisodeColor(row.EpisodeID), shortID(row.EpisodeID), colorReset,
		colorBlue, row.Steps, colorReset,
		colorCyan, row.Reward, colorReset,
		outcomeColor, row.Outcome, colorReset)
	if row.Stage != "" {
		line += fmt.Sprintf(" %sstage=%s%s", colorMagenta, row.Stage, colorReset)
	}
	w.program.Send(episodeMsg{line: line, row: row})
	return nil
}

// SetAdminStatus updates the display server indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg          *config.EnvConfig
	table        table.Model
	vp           viewport.Model
	epVP         viewport.Model
	logs         []string
	epLogs       []string
	admin        bool
	wrap         bool
	autoscroll   bool
	summary      bool
	help         bool
	header       string
	headerHeight int
	height       int

	episodes      int
	successes     int
	collisions    int
	totalReward   float64
	rewardHistory []float64
	lastStage     string
}

func newTUIModel(cfg *config.EnvConfig) tuiModel {
	cols := []table.Column{
		{Title: "Config", Width: 18},
		{Title: "Value", Width: 14},
		{Title: "Config", Width: 18},
		{Title: "Value", Width: 14},
	}
	sp := cfg.Randomization.SpawnMaxOffset
	rows := []table.Row{
		{"Simulator", cfg.Simulator.Address, "Target", cfg.Simulator.Target},
		{"Camera", fmt.Sprintf("%dx%d", cfg.Camera.Width, cfg.Camera.Height), "Speed (m/s)", fmt.Sprintf("%.1f", cfg.Control.Speed)},
		{"Time Step (s)", fmt.Sprintf("%.3f", cfg.Control.TimeStep), "Spawn Box (m)", fmt.Sprintf("%.0f/%.0f/%.0f", sp.X, sp.Y, sp.Z)},
		{"Max Wind (m/s)", fmt.Sprintf("%.1f", cfg.Randomization.MaxWindSpeed), "Image Noise", fmt.Sprintf("%t %.3f", cfg.Render.ImageNoise, cfg.Render.NoiseVariance)},
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	return tuiModel{
		cfg:        cfg,
		table:      t,
		vp:         viewport.New(0, 0),
		epVP:       viewport.New(0, 0),
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.epVP.Width = msg.Width
		m.height = msg.Height
		m.header = m.table.View()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
		m.refreshEpisodes()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
				m.updateViewportHeight()
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			m.refreshEpisodes()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
				m.epVP.GotoBottom()
			}
			return m, nil
		case "t":
			m.summary = !m.summary
			m.updateViewportHeight()
			return m, nil
		case "h", "?":
			m.help = !m.help
			m.updateViewportHeight()
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case episodeMsg:
		m.epLogs = append(m.epLogs, msg.line)
		if len(m.epLogs) > maxLogLines {
			m.epLogs = m.epLogs[len(m.epLogs)-maxLogLines:]
		}
		m.episodes++
		switch msg.row.Outcome {
		case telemetry.OutcomeSuccess:
			m.successes++
		case telemetry.OutcomeCollision:
			m.collisions++
		}
		m.totalReward += msg.row.Reward
		m.rewardHistory = append(m.rewardHistory, msg.row.Reward)
		if len(m.rewardHistory) > rewardHistoryLen {
			m.rewardHistory = m.rewardHistory[len(m.rewardHistory)-rewardHistoryLen:]
		}
		if msg.row.Stage != "" {
			m.lastStage = msg.row.Stage
		}
		m.updateViewportHeight()
		m.refreshEpisodes()
	case adminMsg:
		m.admin = msg.active
	}
	return m, nil
}

func (m tuiModel) maxSectionLines() int {
	n := int(float64(m.height) * maxSectionHeightPct)
	if n < 1 {
		n = 1
	}
	return n
}

func (m *tuiModel) updateViewportHeight() {
	bottomHeight := lipgloss.Height(m.renderBottom())
	epLines := len(m.epLogs)
	if epLines == 0 {
		epLines = 1
	}
	if limit := m.maxSectionLines(); epLines > limit {
		epLines = limit
	}
	m.epVP.Height = epLines
	h := m.height - m.headerHeight - bottomHeight - (1 + m.epVP.Height) - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.epVP.GotoBottom()
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) wrapLines(logs []string, width int) string {
	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, width))
		} else {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

func (m *tuiModel) refreshViewport() {
	m.vp.SetContent(m.wrapLines(m.logs, m.vp.Width))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshEpisodes() {
	m.epVP.SetContent(m.wrapLines(m.epLogs, m.epVP.Width))
	if m.autoscroll {
		m.epVP.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	sections := []string{
		m.header,
		divider,
		m.vp.View(),
		divider,
		"Episodes:",
		m.epVP.View(),
		divider,
		m.renderBottom(),
	}
	return strings.Join(sections, "\n")
}

func (m tuiModel) successRate() float64 {
	if m.episodes == 0 {
		return 0
	}
	return float64(m.successes) / float64(m.episodes) * 100
}

func (m tuiModel) renderSummary() string {
	avg := 0.0
	if m.episodes > 0 {
		avg = m.totalReward / float64(m.episodes)
	}
	var trend []string
	for _, r := range m.rewardHistory {
		trend = append(trend, fmt.Sprintf("%.0f", r))
	}
	summary := fmt.Sprintf("%sSUMMARY%s %sepisodes=%d%s %ssuccess=%.0f%%%s %scollisions=%d%s %savg_reward=%.2f%s",
		colorBlue, colorReset,
		colorGreen, m.episodes, colorReset,
		colorCyan, m.successRate(), colorReset,
		colorRed, m.collisions, colorReset,
		colorMagenta, avg, colorReset)
	if len(trend) > 0 {
		summary = fmt.Sprintf("%s %strend=[%s]%s", summary, colorYellow, strings.Join(trend, ","), colorReset)
	}
	if m.lastStage != "" {
		summary = fmt.Sprintf("%s stage=%s", summary, m.lastStage)
	}
	return summary
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	line := fmt.Sprintf("%sEPISODES%s %d (%.0f%% success) | Display %s | Wrap %s | Scroll %s | Summary %s | Help %s",
		colorBlue, colorReset, m.episodes, m.successRate(),
		indicator(m.admin), indicator(m.wrap), indicator(m.autoscroll), indicator(m.summary), indicator(m.help))
	if m.summary {
		return fmt.Sprintf("%s\n%s", m.renderSummary(), line)
	}
	return line
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle wrap",
		" s  toggle auto-scroll",
		" t  toggle summary footer",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}
