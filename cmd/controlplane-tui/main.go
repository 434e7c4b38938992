package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-controlplane/pkg/config"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/node"
	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
	"github.com/dd0wney/cluso-controlplane/pkg/status"
)

const (
	refreshInterval = 2 * time.Second
	requestTimeout  = 5 * time.Second
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	dashboardView view = iota
	membersView
	tasksView
	schedulesView
	viewCount
)

var tabNames = []string{"Dashboard", "Members", "Tasks", "Schedules"}

type keyMap struct {
	Tab       key.Binding
	ShiftTab  key.Binding
	Refresh   key.Binding
	Remediate key.Binding
	Retrigger key.Binding
	Pause     key.Binding
	Resume    key.Binding
	Quit      key.Binding
	Up        key.Binding
	Down      key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	ShiftTab: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "prev view"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Remediate: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "remediate task"),
	),
	Retrigger: key.NewBinding(
		key.WithKeys("t"),
		key.WithHelp("t", "retrigger task"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "pause schedule"),
	),
	Resume: key.NewBinding(
		key.WithKeys("u"),
		key.WithHelp("u", "resume schedule"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.ShiftTab, k.Refresh},
		{k.Up, k.Down},
		{k.Remediate, k.Retrigger, k.Pause, k.Resume},
		{k.Quit},
	}
}

// viewHelp adds the actions available on the current view
func (k keyMap) viewHelp(v view) []key.Binding {
	out := k.ShortHelp()
	switch v {
	case tasksView:
		out = append(out, k.Remediate, k.Retrigger)
	case schedulesView:
		out = append(out, k.Pause, k.Resume)
	}
	return out
}

type model struct {
	node        *node.Node
	report      *status.Report
	currentView view
	members     table.Model
	tasks       table.Model
	schedules   table.Model
	spinner     spinner.Model
	loading     bool
	help        help.Model
	keys        keyMap
	width       int
	height      int
	message     string
	messageErr  bool
}

type tickMsg time.Time

type reportMsg struct {
	report *status.Report
	err    error
}

type actionMsg struct {
	verb string
	id   string
	err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func initialModel(n *node.Node) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		node: n,
		members: newTable([]table.Column{
			{Title: "ID", Width: 16},
			{Title: "Address", Width: 24},
			{Title: "Oldest", Width: 8},
			{Title: "Local", Width: 8},
		}),
		tasks: newTable([]table.Column{
			{Title: "ID", Width: 36},
			{Title: "Kind", Width: 18},
			{Title: "Status", Width: 12},
			{Title: "Progress", Width: 9},
			{Title: "Schedule", Width: 14},
			{Title: "Updated", Width: 20},
		}),
		schedules: newTable([]table.Column{
			{Title: "ID", Width: 36},
			{Title: "Name", Width: 16},
			{Title: "Trigger", Width: 22},
			{Title: "Kind", Width: 18},
			{Title: "Status", Width: 12},
			{Title: "Fired", Width: 6},
		}),
		spinner: sp,
		loading: true,
		help:    help.New(),
		keys:    keys,
	}
}

func (m model) collect() tea.Cmd {
	n := m.node
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		r, err := status.Collect(ctx, status.Sources{
			NodeID:     n.Config.Node.ID,
			Cluster:    n.Stores.Cluster,
			Membership: n.Membership,
			Fencer:     n.Fence,
			Tasks:      n.Tasks,
			Schedules:  n.Scheduler,
			Plugins:    n.Plugins,
			Params:     n.Params,
		})
		return reportMsg{report: r, err: err}
	}
}

// act runs one admin operation on the selected row
func (m model) act(verb, id string, fn func(ctx context.Context, id string) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return actionMsg{verb: verb, id: id, err: fn(ctx, id)}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.collect(), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.collect(), tickCmd())

	case reportMsg:
		m.loading = false
		if msg.err != nil {
			m.message = fmt.Sprintf("Refresh failed: %v", msg.err)
			m.messageErr = true
			return m, nil
		}
		m.report = msg.report
		m.fillTables()
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("%s %s failed: %v", msg.verb, msg.id, msg.err)
			m.messageErr = true
		} else {
			m.message = fmt.Sprintf("%s %s", msg.verb, msg.id)
			m.messageErr = false
		}
		return m, m.collect()

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % viewCount
			return m, nil

		case key.Matches(msg, m.keys.ShiftTab):
			m.currentView = (m.currentView + viewCount - 1) % viewCount
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.collect())

		case m.currentView == tasksView && key.Matches(msg, m.keys.Remediate):
			if id := selectedID(m.tasks); id != "" {
				return m, m.act("remediated", id, func(ctx context.Context, id string) error {
					_, err := m.node.Tasks.Remediate(ctx, id)
					return err
				})
			}

		case m.currentView == tasksView && key.Matches(msg, m.keys.Retrigger):
			if id := selectedID(m.tasks); id != "" {
				return m, m.act("retriggered", id, func(ctx context.Context, id string) error {
					_, err := m.node.Tasks.Retrigger(ctx, id)
					return err
				})
			}

		case m.currentView == schedulesView && key.Matches(msg, m.keys.Pause):
			if id := selectedID(m.schedules); id != "" {
				return m, m.act("paused", id, func(ctx context.Context, id string) error {
					_, err := m.node.Scheduler.Pause(ctx, []string{id})
					return err
				})
			}

		case m.currentView == schedulesView && key.Matches(msg, m.keys.Resume):
			if id := selectedID(m.schedules); id != "" {
				return m, m.act("resumed", id, func(ctx context.Context, id string) error {
					_, err := m.node.Scheduler.Resume(ctx, []string{id})
					return err
				})
			}
		}
	}

	switch m.currentView {
	case membersView:
		m.members, cmd = m.members.Update(msg)
		cmds = append(cmds, cmd)
	case tasksView:
		m.tasks, cmd = m.tasks.Update(msg)
		cmds = append(cmds, cmd)
	case schedulesView:
		m.schedules, cmd = m.schedules.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func selectedID(t table.Model) string {
	row := t.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return row[0]
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func (m *model) fillTables() {
	r := m.report

	members := make([]table.Row, 0, len(r.Members))
	for _, mem := range r.Members {
		members = append(members, table.Row{mem.ID, mem.Addr, yesNo(mem.Oldest), yesNo(mem.Local)})
	}
	m.members.SetRows(members)

	tasks := make([]table.Row, 0, len(r.RecentTasks))
	for _, t := range r.RecentTasks {
		progress := ""
		if cur := t.Current(); cur != nil {
			progress = fmt.Sprintf("%d%%", cur.State().PercentComplete)
		}
		tasks = append(tasks, table.Row{
			t.ID,
			t.Kind,
			string(t.Status),
			progress,
			t.ScheduleID,
			t.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	m.tasks.SetRows(tasks)

	specs := make([]table.Row, 0, len(r.Schedules))
	for _, s := range r.Schedules {
		specs = append(specs, table.Row{
			s.ID,
			s.Name,
			trigger(s),
			s.TaskKind,
			string(s.Status),
			fmt.Sprintf("%d", s.FireCount),
		})
	}
	m.schedules.SetRows(specs)
}

func trigger(s *scheduler.Spec) string {
	if s.JobType == scheduler.JobCron {
		return s.CronExpression
	}
	if s.ScheduledTime != nil {
		return s.ScheduledTime.Local().Format(time.DateTime)
	}
	return string(s.JobType)
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("Cluso Control Plane"))
	if m.loading {
		s.WriteString(" " + m.spinner.View())
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.currentView {
	case dashboardView:
		s.WriteString(m.renderDashboard())
	case membersView:
		s.WriteString(m.renderTable("Members", m.members))
	case tasksView:
		s.WriteString(m.renderTable("Recent Tasks", m.tasks))
	case schedulesView:
		s.WriteString(m.renderTable("Schedules", m.schedules))
	}

	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(errorStyle.Render("✗ " + m.message))
		} else {
			s.WriteString(successStyle.Render("✓ " + m.message))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.viewHelp(m.currentView))))

	return s.String()
}

func (m model) renderTabs() string {
	rendered := make([]string, 0, len(tabNames))
	for i, tab := range tabNames {
		if view(i) == m.currentView {
			rendered = append(rendered, activeTabStyle.Render(tab))
		} else {
			rendered = append(rendered, inactiveTabStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m model) renderDashboard() string {
	r := m.report
	if r == nil {
		return contentStyle.Render("Waiting for the first refresh...")
	}

	cluster := r.Summary()

	counts := fmt.Sprintf(`Tasks
─────────────
Initializing: %d
In progress:  %d
Completed:    %d
Failed:       %d
Unremediated: %d

Schedules:    %d
Plugins:      %s`,
		r.Tasks.Initializing,
		r.Tasks.InProgress,
		r.Tasks.Completed,
		r.Tasks.Failed,
		r.Tasks.Unremediated,
		len(r.Schedules),
		strings.Join(r.Plugins, ", "),
	)

	return contentStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(cluster), boxStyle.Render(counts)),
	)
}

func (m model) renderTable(title string, t table.Model) string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(title))
	s.WriteString("\n\n")
	s.WriteString(t.View())
	return contentStyle.Render(s.String())
}

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "Node config (YAML) naming the store and peers")
	envFile := flag.String("env-file", ".env", "Optional .env file")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	n, err := node.New(ctx, cfg, node.Options{
		Role:   node.RoleClient,
		Logger: logging.NewJSONLogger(os.Stderr, logging.ErrorLevel),
	})
	cancel()
	if err != nil {
		log.Fatalf("Failed to open control plane: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := n.Close(ctx); err != nil {
			log.Printf("Close failed: %v", err)
		}
	}()

	p := tea.NewProgram(initialModel(n), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Printf("Error running program: %v", err)
	}
}
