// ABOUTME: Terminal rendering for boards and task details
// ABOUTME: Colored columns for people, indented JSON for scripts

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/board-gateway/internal/store"
)

var importanceColor = map[store.Importance]*color.Color{
	store.ImportanceHigh:   color.New(color.FgRed, color.Bold),
	store.ImportanceMedium: color.New(color.FgYellow),
	store.ImportanceLow:    color.New(color.FgHiBlack),
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBoard(w io.Writer, board string, containers []store.Container, tasks []store.Task, pretty bool) error {
	if !pretty {
		return writeJSON(w, struct {
			BoardKey   string            `json:"board_key"`
			Containers []store.Container `json:"containers"`
			Tasks      []store.Task      `json:"tasks"`
		}{board, containers, tasks})
	}

	byColumn := make(map[string][]store.Task, len(containers))
	for _, t := range tasks {
		byColumn[t.ContainerUUID] = append(byColumn[t.ContainerUUID], t)
	}

	header := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	var b strings.Builder
	header.Fprintf(&b, "\n%s\n", board)
	if len(containers) == 0 {
		dim.Fprintln(&b, "  (no columns)")
	}
	for _, c := range containers {
		fmt.Fprintf(&b, "\n  %d. %s", c.Order, c.Name)
		if c.State == store.ContainerCreating {
			dim.Fprint(&b, " (saving…)")
		}
		dim.Fprintf(&b, "  %s\n", c.UUID)
		for _, t := range byColumn[c.UUID] {
			fmt.Fprint(&b, "     • ")
			if ic, ok := importanceColor[t.Importance]; ok {
				ic.Fprintf(&b, "[%s] ", t.Importance)
			}
			fmt.Fprintf(&b, "%s", t.Name)
			dim.Fprintf(&b, "  due %s  %s\n", t.DueDate.Format("2006-01-02"), t.UUID)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func printTaskDetail(w io.Writer, d store.TaskDetail, pretty bool) error {
	if !pretty {
		return writeJSON(w, d)
	}

	t := d.Task
	label := color.New(color.FgHiBlack)
	row := func(name, value string) {
		label.Fprintf(w, "  %-12s ", name+":")
		fmt.Fprintln(w, value)
	}

	color.New(color.FgCyan, color.Bold).Fprintf(w, "%s\n", t.Name)
	row("UUID", t.UUID)
	row("Status", t.Status)
	row("Importance", string(t.Importance))
	row("Due", t.DueDate.Format("2006-01-02"))
	if t.ReminderDate != nil {
		row("Reminder", t.ReminderDate.Format("2006-01-02 15:04"))
	}
	if t.EstimatedHours != nil {
		row("Estimate", fmt.Sprintf("%.1fh", *t.EstimatedHours))
	}
	if len(t.Labels) > 0 {
		row("Labels", strings.Join(t.Labels, ", "))
	}
	row("Created by", d.CreatedByName)
	if d.AssignedToName != nil {
		row("Assigned to", *d.AssignedToName)
	}
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
	return nil
}
