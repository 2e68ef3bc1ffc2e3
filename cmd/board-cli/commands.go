// ABOUTME: board-cli subcommands
// ABOUTME: One-shot edits wait for the gateway's outcome; watch redraws the board on every change

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/board-gateway/internal/client"
	"github.com/2389/board-gateway/internal/protocol"
	"github.com/2389/board-gateway/internal/reconciler"
	"github.com/2389/board-gateway/internal/store"
)

var (
	taskDescription string
	taskDue         string
	taskImportance  string
	taskStatus      string
	taskLabels      []string
	taskAssignee    string
)

func init() {
	addTaskCmd.Flags().StringVar(&taskDue, "due", "", "due date, e.g. 2026-11-30 (required)")
	addTaskCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "task description")
	addTaskCmd.Flags().StringVarP(&taskImportance, "importance", "i", "", "Low, Medium or High")
	addTaskCmd.Flags().StringVar(&taskStatus, "status", "", "task status")
	addTaskCmd.Flags().StringSliceVarP(&taskLabels, "label", "l", nil, "label, repeatable")
	addTaskCmd.Flags().StringVar(&taskAssignee, "assign", "", "assignee user id")
	_ = addTaskCmd.MarkFlagRequired("due")

	rootCmd.AddCommand(watchCmd, addColumnCmd, deleteColumnCmd, orderColumnsCmd, moveTaskCmd, addTaskCmd, taskCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch BOARD",
	Short: "Show a board and redraw it as it changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		var (
			mu   sync.Mutex
			conn *connection
		)
		redraw := func() {
			mu.Lock()
			defer mu.Unlock()
			if conn == nil {
				return
			}
			if err := printBoard(cmd.OutOrStdout(), args[0], conn.Containers(), conn.Tasks(), !jsonOutput); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		}
		onReject := func(op reconciler.PendingOperation, message string) {
			color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "reverted %s: %s\n", op.Kind, message)
		}

		c, err := connect(ctx, args[0], redraw, onReject)
		if err != nil {
			return err
		}
		defer c.Close()

		mu.Lock()
		conn = c
		mu.Unlock()
		redraw()

		select {
		case <-ctx.Done():
		case <-c.Done():
		}
		return nil
	},
}

var addColumnCmd = &cobra.Command{
	Use:   "add-column BOARD NAME",
	Short: "Add a column at the end of a board",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, args[0], func(ctx context.Context, c *connection) (string, error) {
			col, op, err := c.CreateContainer(ctx, args[1])
			if err != nil {
				return "", err
			}
			if err := op.Wait(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("created column %q (%s)", col.Name, col.UUID), nil
		})
	},
}

var deleteColumnCmd = &cobra.Command{
	Use:   "delete-column BOARD COLUMN",
	Short: "Delete a column and every task in it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, args[0], func(ctx context.Context, c *connection) (string, error) {
			col, err := resolveColumn(c.Containers(), args[1])
			if err != nil {
				return "", err
			}
			op, err := c.DeleteContainer(ctx, col.UUID)
			if err != nil {
				return "", err
			}
			if err := op.Wait(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("deleted column %q", col.Name), nil
		})
	},
}

var orderColumnsCmd = &cobra.Command{
	Use:   "order-columns BOARD COLUMN...",
	Short: "Put every column of a board in the given order",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, args[0], func(ctx context.Context, c *connection) (string, error) {
			containers := c.Containers()
			ids := make([]string, 0, len(args)-1)
			for _, ref := range args[1:] {
				col, err := resolveColumn(containers, ref)
				if err != nil {
					return "", err
				}
				ids = append(ids, col.UUID)
			}
			op, err := c.ReorderContainers(ctx, ids)
			if err != nil {
				return "", err
			}
			if err := op.Wait(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("reordered %d columns", len(ids)), nil
		})
	},
}

var moveTaskCmd = &cobra.Command{
	Use:   "move-task BOARD TASK COLUMN",
	Short: "Move a task to another column",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, args[0], func(ctx context.Context, c *connection) (string, error) {
			task, err := resolveTask(c.Tasks(), args[1])
			if err != nil {
				return "", err
			}
			col, err := resolveColumn(c.Containers(), args[2])
			if err != nil {
				return "", err
			}
			op, err := c.MoveTask(ctx, task.UUID, col.UUID)
			if err != nil {
				return "", err
			}
			if err := op.Wait(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("moved %q to %q", task.Name, col.Name), nil
		})
	},
}

var addTaskCmd = &cobra.Command{
	Use:   "add-task BOARD COLUMN NAME",
	Short: "Create a task in a column",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, args[0], func(ctx context.Context, c *connection) (string, error) {
			col, err := resolveColumn(c.Containers(), args[1])
			if err != nil {
				return "", err
			}
			task, err := c.CreateTask(ctx, protocol.CreateTaskRequest{
				ContainerUUID: col.UUID,
				Name:          args[2],
				Description:   taskDescription,
				DueDate:       taskDue,
				Importance:    taskImportance,
				Status:        taskStatus,
				Labels:        taskLabels,
				AssignedTo:    taskAssignee,
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("created task %q (%s) in %q", task.Name, task.UUID, col.Name), nil
		})
	},
}

var taskCmd = &cobra.Command{
	Use:   "task BOARD TASK",
	Short: "Show one task with its creator and assignee",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		c, err := connect(ctx, args[0], nil, nil)
		if err != nil {
			return err
		}
		defer c.Close()

		task, err := resolveTask(c.Tasks(), args[1])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, c.settings.Wait)
		defer cancel()
		detail, err := c.TaskDetail(ctx, task.UUID)
		if err != nil {
			return err
		}
		return printTaskDetail(cmd.OutOrStdout(), detail, !jsonOutput)
	},
}

// oneShot connects, runs fn bounded by the configured wait and prints its summary.
func oneShot(cmd *cobra.Command, board string, fn func(context.Context, *connection) (string, error)) error {
	ctx, stop := signalContext()
	defer stop()

	c, err := connect(ctx, board, nil, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, c.settings.Wait)
	defer cancel()

	summary, err := fn(ctx, c)
	if err != nil {
		var reqErr *client.RequestError
		if errors.As(err, &reqErr) {
			return fmt.Errorf("gateway rejected %s: %s", reqErr.Type, reqErr.Message)
		}
		return err
	}

	if jsonOutput {
		board, err := c.MarshalBoard()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(board))
		return err
	}
	color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

// resolveColumn finds a column by uuid, or by case-insensitive name when unique.
func resolveColumn(containers []store.Container, ref string) (store.Container, error) {
	var matches []store.Container
	for _, c := range containers {
		if c.UUID == ref {
			return c, nil
		}
		if strings.EqualFold(c.Name, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return store.Container{}, fmt.Errorf("no column %q", ref)
	case 1:
		return matches[0], nil
	default:
		return store.Container{}, fmt.Errorf("column name %q is ambiguous, use its uuid", ref)
	}
}

// resolveTask finds a task by uuid, or by case-insensitive name when unique.
func resolveTask(tasks []store.Task, ref string) (store.Task, error) {
	var matches []store.Task
	for _, t := range tasks {
		if t.UUID == ref {
			return t, nil
		}
		if strings.EqualFold(t.Name, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return store.Task{}, fmt.Errorf("no task %q", ref)
	case 1:
		return matches[0], nil
	default:
		return store.Task{}, fmt.Errorf("task name %q is ambiguous, use its uuid", ref)
	}
}
