package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"atelier/internal/api"
	"atelier/internal/client"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the generation queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueHistoryCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued and processing items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.Queue(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				printQueueMetrics(out, resp.Metrics)
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				printQueueTable(out, resp.Items, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueHistoryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var status string
	var page int
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List completed and failed items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := strings.ToLower(strings.TrimSpace(status))
			switch filter {
			case "", "completed", "failed":
			default:
				return fmt.Errorf("invalid --status %q (use completed or failed)", status)
			}
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.History(c, filter, page, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No history")
					return nil
				}
				printQueueTable(out, resp.Items, shouldColorize(out))
				fmt.Fprintf(out, "Page %d (%d of %d items)\n", resp.Page, len(resp.Items), resp.Total)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&status, "status", "", "Only show completed or failed items")
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Items per page")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <queue-id>",
		Short: "Show a single queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.QueueItem(c, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				item := resp.Item
				fmt.Fprintf(out, "Queue item:   %s\n", item.ID)
				fmt.Fprintf(out, "Generation:   %s\n", item.GenerationID)
				fmt.Fprintf(out, "Status:       %s\n", statusLabel(item.Status))
				if item.Position > 0 {
					fmt.Fprintf(out, "Position:     %d of %d\n", item.Position, resp.Metrics.QueuedCount)
				}
				fmt.Fprintf(out, "Attempts:     %d\n", item.Attempts)
				if item.RemixSourceID != "" {
					fmt.Fprintf(out, "Remix of:     %s (%s)\n", item.RemixSourceID, valueOrDash(item.RemixMode))
				}
				if item.EditInstructions != "" {
					fmt.Fprintf(out, "Edit:         %s\n", item.EditInstructions)
				}
				if len(item.ReferencePhotos) > 0 {
					fmt.Fprintf(out, "References:   %s\n", strings.Join(item.ReferencePhotos, ", "))
				}
				fmt.Fprintf(out, "Created:      %s\n", valueOrDash(item.CreatedAt))
				if item.StartedAt != "" {
					fmt.Fprintf(out, "Started:      %s\n", item.StartedAt)
				}
				if item.CompletedAt != "" {
					fmt.Fprintf(out, "Completed:    %s\n", item.CompletedAt)
				}
				if item.Error != "" {
					fmt.Fprintf(out, "Error:        %s\n", item.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <queue-id>...",
		Aliases: []string{"remove"},
		Short:   "Cancel queued items",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					if err := apiClient.DeleteQueueItem(c, id); err != nil {
						if client.IsNotFound(err) {
							fmt.Fprintf(out, "Queue item %s not found\n", id)
							continue
						}
						return fmt.Errorf("remove %s: %w", id, err)
					}
					fmt.Fprintf(out, "Removed queue item %s\n", id)
				}
				return nil
			})
		},
	}
}

func printQueueMetrics(out io.Writer, m api.QueueMetrics) {
	fmt.Fprintf(out, "Queued: %d  Processing: %d  Avg wait: %.1fs\n", m.QueuedCount, m.ProcessingCount, m.AvgWaitSeconds)
}

func printQueueTable(out io.Writer, items []api.QueueItem, colorize bool) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		position := "-"
		if item.Position > 0 {
			position = strconv.Itoa(item.Position)
		}
		detail := item.Error
		if detail == "" && item.RemixSourceID != "" {
			detail = "remix of " + item.RemixSourceID
		}
		rows = append(rows, []string{
			item.ID,
			item.GenerationID,
			colorCell(item.Status, colorize),
			position,
			strconv.Itoa(item.Attempts),
			valueOrDash(item.CreatedAt),
			truncate(valueOrDash(detail), 48),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Queue Item", "Generation", "Status", "Pos", "Attempts", "Created", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
	fmt.Fprintln(out)
}
