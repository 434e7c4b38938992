package status

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dd0wney/cluso-controlplane/pkg/scheduler"
	"github.com/dd0wney/cluso-controlplane/pkg/task"
)

var (
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FFFF"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// Table renders headers and rows with the shared border style
func Table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// Summary renders the cluster section
func (r *Report) Summary() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Cluster") + "\n")
	if r.Config != nil {
		fmt.Fprintf(&b, "  name:     %s\n", r.Config.ClusterName)
		fmt.Fprintf(&b, "  mode:     %s\n", r.Config.DeploymentMode)
		fmt.Fprintf(&b, "  quorum:   %d (%s)\n", r.Config.Quorum, r.quorumLabel())
		fmt.Fprintf(&b, "  version:  %d, updated %s\n", r.Config.Version, r.Config.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "  node:     %s", r.NodeID)
	if r.Fenced {
		b.WriteString(" " + warnStyle.Render("FENCED: "+r.FenceReason))
	}
	b.WriteString("\n")
	return b.String()
}

func (r *Report) quorumLabel() string {
	if r.HasQuorum {
		return okStyle.Render("present")
	}
	return warnStyle.Render("absent")
}

// MembersTable renders the membership
func (r *Report) MembersTable() string {
	rows := make([][]string, 0, len(r.Members))
	for _, m := range r.Members {
		var flags []string
		if m.Oldest {
			flags = append(flags, "oldest")
		}
		if m.Local {
			flags = append(flags, "local")
		}
		rows = append(rows, []string{m.ID, m.Addr, strings.Join(flags, ",")})
	}
	return Table([]string{"MEMBER", "ADDR", ""}, rows)
}

// TasksTable renders the recent tasks
func (r *Report) TasksTable() string {
	return TasksTable(r.RecentTasks)
}

// TasksTable renders tasks with their current attempt
func TasksTable(tasks []*task.Task) string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		progress, reason := "", ""
		if cur := t.Current(); cur != nil {
			progress = fmt.Sprintf("%d%%", cur.State().PercentComplete)
			reason = cur.State().FailureReason
		}
		rows = append(rows, []string{
			t.ID, t.Kind, string(t.Status), progress,
			fmt.Sprintf("%d", len(t.Triggers)), remediated(t), reason,
		})
	}
	return Table([]string{"TASK", "KIND", "STATUS", "PROGRESS", "ATTEMPTS", "REMEDIATED", "REASON"}, rows)
}

func remediated(t *task.Task) string {
	switch {
	case t.Remediated == nil:
		return "-"
	case *t.Remediated:
		return "yes"
	default:
		return "no"
	}
}

// SchedulesTable renders the schedules
func (r *Report) SchedulesTable() string {
	return SchedulesTable(r.Schedules)
}

// SchedulesTable renders specs with their trigger
func SchedulesTable(specs []*scheduler.Spec) string {
	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		trigger := s.CronExpression
		if s.JobType == scheduler.JobSimple && s.ScheduledTime != nil {
			trigger = s.ScheduledTime.UTC().Format(time.RFC3339)
		}
		last := "-"
		if s.LastFiredAt != nil {
			last = s.LastFiredAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			s.ID, s.Name, string(s.JobType), trigger, s.TaskKind, string(s.Status),
			fmt.Sprintf("%d", s.FireCount), last,
		})
	}
	return Table([]string{"SCHEDULE", "NAME", "TYPE", "TRIGGER", "TASK KIND", "STATUS", "FIRES", "LAST FIRED"}, rows)
}

// Write renders the full report
func (r *Report) Write(w io.Writer) error {
	c := r.Tasks
	parts := []string{
		r.Summary(),
		sectionStyle.Render("Members"),
		r.MembersTable(),
		sectionStyle.Render(fmt.Sprintf("Tasks  initializing=%d in_progress=%d completed=%d failed=%d unremediated=%d",
			c.Initializing, c.InProgress, c.Completed, c.Failed, c.Unremediated)),
		r.TasksTable(),
		sectionStyle.Render("Schedules"),
		r.SchedulesTable(),
	}
	if len(r.Plugins) > 0 {
		parts = append(parts, sectionStyle.Render("Plugins")+" "+strings.Join(r.Plugins, ", "))
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, parts...))
	return err
}
