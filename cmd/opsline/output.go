package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"opsline/internal/domain"
)

const displayTime = "2006-01-02 15:04"

// printJSONOrTable renders known list types as tables and everything else as indented JSON.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	switch items := v.(type) {
	case []domain.User:
		tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role"})
		for _, u := range items {
			tw.AppendRow(table.Row{u.ID, u.FullName, u.Email, u.Role})
		}
	case []domain.Meeting:
		tw.AppendHeader(table.Row{"ID", "Title", "Date", "Status", "Confirmed"})
		for _, m := range items {
			tw.AppendRow(table.Row{m.ID, m.Title, m.Date.Local().Format(displayTime), m.Status,
				fmt.Sprintf("%d/%d", len(m.ConfirmedParticipants), len(m.Participants))})
		}
	case []domain.Task:
		tw.AppendHeader(table.Row{"ID", "Title", "Category", "Assignee", "Deadline", "Status", "Blocked"})
		for _, t := range items {
			blocked := ""
			if t.IsBlocked {
				blocked = t.BlockReason
			}
			tw.AppendRow(table.Row{t.ID, t.Title, t.Category, t.AssignedTo, t.Deadline.Local().Format(displayTime), t.Status, blocked})
		}
	case []domain.TaskComment:
		tw.AppendHeader(table.Row{"At", "User", "Comment"})
		for _, c := range items {
			tw.AppendRow(table.Row{c.CreatedAt.Local().Format(displayTime), c.UserID, c.Content})
		}
	case []domain.LeaveRequest:
		tw.AppendHeader(table.Row{"ID", "User", "Start", "End", "Status", "Decided by"})
		for _, l := range items {
			tw.AppendRow(table.Row{l.ID, l.UserID, l.StartDate.Local().Format("2006-01-02"), l.EndDate.Local().Format("2006-01-02"), l.Status, l.DecidedBy})
		}
	case []domain.Equipment:
		tw.AppendHeader(table.Row{"ID", "Name", "Assigned to", "Since"})
		for _, eq := range items {
			tw.AppendRow(table.Row{eq.ID, eq.Name, eq.AssignedTo, eq.AssignedDate.Local().Format("2006-01-02")})
		}
	case []domain.Message:
		tw.AppendHeader(table.Row{"At", "User", "Decision", "Content"})
		for _, m := range items {
			tw.AppendRow(table.Row{m.CreatedAt.Local().Format(displayTime), m.UserID, yesNo(m.IsDecision), m.Content})
		}
	case []domain.ComplianceReport:
		tw.AppendHeader(table.Row{"ID", "Filed", "Content"})
		for _, c := range items {
			tw.AppendRow(table.Row{c.ID, c.CreatedAt.Local().Format(displayTime), c.Content})
		}
	case []domain.Notification:
		tw.AppendHeader(table.Row{"ID", "At", "Priority", "Read", "Title", "Message"})
		for _, n := range items {
			tw.AppendRow(table.Row{n.ID, n.CreatedAt.Local().Format(displayTime), n.Priority, yesNo(n.Read), n.Title, n.Message})
		}
	case []domain.EventRecord:
		tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
		for _, e := range items {
			tw.AppendRow(table.Row{e.ID, formatEventTS(e.TS), e.Type, strings.TrimSuffix(e.EntityKind+":"+e.EntityID, ":"), e.ActorID})
		}
	default:
		return printJSON(v)
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func formatEventTS(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(displayTime)
}
