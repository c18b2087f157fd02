package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"atelier/internal/api"
	"atelier/internal/client"
)

var queueStatusOrder = []string{"queued", "processing", "completed", "failed"}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, database, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				status, err := apiClient.Status(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				printDaemonStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printDaemonStatus(out io.Writer, status api.DaemonStatus) {
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "Stopped", colorize))
	}
	if status.Workflow.Running {
		fmt.Fprintln(out, renderStatusLine("Processor", statusOK, "Running", colorize))
	} else if status.Workflow.Draining {
		fmt.Fprintln(out, renderStatusLine("Processor", statusWarn, "Draining", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Processor", statusWarn, "Idle", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Provider", statusInfo, valueOrDash(status.Workflow.Provider), colorize))
	storageKind := statusOK
	storageDetail := valueOrDash(status.Workflow.StorageBackend)
	if !status.Workflow.StorageHealthy {
		storageKind = statusError
		if status.Workflow.StorageDetail != "" {
			storageDetail += " (" + status.Workflow.StorageDetail + ")"
		}
	}
	fmt.Fprintln(out, renderStatusLine("Storage", storageKind, storageDetail, colorize))
	if status.Workflow.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.Workflow.LastError, colorize))
	}
	fmt.Fprintln(out)

	if len(status.Checks) > 0 {
		for _, line := range renderSectionHeader("Checks", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, check := range status.Checks {
			kind := statusOK
			if !check.Passed {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
		fmt.Fprintln(out)
	}

	for _, line := range renderSectionHeader("Database", colorize) {
		fmt.Fprintln(out, line)
	}
	db := status.Database
	fmt.Fprintln(out, renderStatusLine("Path", statusInfo, db.Path, colorize))
	if db.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Health", statusError, db.Error, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Health", statusOK, "integrity "+yesNo(db.IntegrityCheck)+", schema "+valueOrDash(db.SchemaVersion), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Generations", statusInfo, strconv.Itoa(db.Generations), colorize))
	fmt.Fprintln(out, renderStatusLine("Queue items", statusInfo, strconv.Itoa(db.QueueItems), colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := buildQueueStatusRows(status.Workflow.QueueStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	fmt.Fprintln(out)
}

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ia, ib := slices.Index(queueStatusOrder, a), slices.Index(queueStatusOrder, b)
		if ia == -1 {
			ia = len(queueStatusOrder)
		}
		if ib == -1 {
			ib = len(queueStatusOrder)
		}
		if ia != ib {
			return ia - ib
		}
		return strings.Compare(a, b)
	})
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		if stats[key] == 0 {
			continue
		}
		rows = append(rows, []string{statusLabel(key), strconv.Itoa(stats[key])})
	}
	return rows
}
