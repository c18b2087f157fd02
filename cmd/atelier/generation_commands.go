package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"atelier/internal/api"
	"atelier/internal/client"
)

func newGenerationCommand(ctx *commandContext) *cobra.Command {
	genCmd := &cobra.Command{
		Use:     "gen",
		Aliases: []string{"generation"},
		Short:   "Inspect and manage generations",
	}

	genCmd.AddCommand(newGenerationShowCommand(ctx))
	genCmd.AddCommand(newGenerationListCommand(ctx))
	genCmd.AddCommand(newGenerationLineageCommand(ctx))
	genCmd.AddCommand(newGenerationToggleCommand(ctx, "favorite", "Toggle the favorite flag", "Favorite",
		func(c context.Context, apiClient *client.Client, id string) (api.ToggleResponse, error) {
			return apiClient.ToggleFavorite(c, id)
		}))
	genCmd.AddCommand(newGenerationToggleCommand(ctx, "hide", "Toggle the hidden flag", "Hidden",
		func(c context.Context, apiClient *client.Client, id string) (api.ToggleResponse, error) {
			return apiClient.ToggleHidden(c, id)
		}))
	genCmd.AddCommand(newGenerationRemoveCommand(ctx))
	genCmd.AddCommand(newGenerationRemixCommand(ctx))

	return genCmd
}

func newGenerationShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <generation-id>",
		Short: "Show a generation and its current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.Generation(c, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				printGeneration(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newGenerationListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var query client.ListQuery
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List generations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.ListGenerations(c, query)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No generations")
					return nil
				}
				printGenerationTable(out, resp.Items, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&query.FavoritesOnly, "favorites", false, "Only show favorites")
	cmd.Flags().BoolVar(&query.IncludeHidden, "all", false, "Include hidden generations")
	cmd.Flags().IntVar(&query.Limit, "limit", 50, "Maximum number of generations")
	cmd.Flags().IntVar(&query.Offset, "offset", 0, "Number of generations to skip")
	return cmd
}

func newGenerationLineageCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lineage <generation-id>",
		Short: "Show the remix chain from the root to a generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.Lineage(c, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				// Items arrive newest first; print from the root down.
				for depth, i := 0, len(resp.Items)-1; i >= 0; depth, i = depth+1, i-1 {
					gen := resp.Items[i]
					indent := strings.Repeat("  ", depth)
					line := fmt.Sprintf("%s%s [%s]", indent, gen.ID, statusLabel(gen.Status))
					if gen.EditInstructions != "" {
						line += " " + truncate(gen.EditInstructions, 60)
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

type toggleFunc func(context.Context, *client.Client, string) (api.ToggleResponse, error)

func newGenerationToggleCommand(ctx *commandContext, use, short, label string, toggle toggleFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <generation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := toggle(c, apiClient, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", resp.ID, label, yesNo(resp.Value))
				return nil
			})
		},
	}
}

func newGenerationRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <generation-id>...",
		Aliases: []string{"remove"},
		Short:   "Delete generations and their images",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					if err := apiClient.DeleteGeneration(c, id); err != nil {
						if client.IsNotFound(err) {
							fmt.Fprintf(out, "Generation %s not found\n", id)
							continue
						}
						return fmt.Errorf("remove %s: %w", id, err)
					}
					fmt.Fprintf(out, "Removed generation %s\n", id)
				}
				return nil
			})
		},
	}
}

func newGenerationRemixCommand(ctx *commandContext) *cobra.Command {
	var req api.RemixRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "remix <generation-id>",
		Short: "Queue an edit of a completed generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.EditInstructions = strings.TrimSpace(req.EditInstructions)
			if req.EditInstructions == "" {
				return fmt.Errorf("--edit is required")
			}
			req.Mode = strings.ToLower(strings.TrimSpace(req.Mode))
			switch req.Mode {
			case "fork", "replace":
			default:
				return fmt.Errorf("invalid --mode %q (use fork or replace)", req.Mode)
			}
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.Remix(c, args[0], req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				return printSubmitResult(cmd, resp)
			})
		},
	}
	cmd.Flags().StringVarP(&req.EditInstructions, "edit", "e", "", "Edit instructions applied to the source image")
	cmd.Flags().StringVar(&req.Mode, "mode", "fork", "fork keeps the source; replace overwrites it on success")
	cmd.Flags().BoolVar(&req.SafetyOverride, "safety-override", false, "Relax provider safety filtering where supported")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printGeneration(out io.Writer, resp api.GenerationStatusResponse) {
	gen := resp.Generation
	fmt.Fprintf(out, "Generation:   %s\n", gen.ID)
	fmt.Fprintf(out, "Status:       %s\n", statusLabel(resp.Status))
	if resp.Position > 0 {
		fmt.Fprintf(out, "Position:     %d\n", resp.Position)
	}
	if resp.ImagePath != "" {
		fmt.Fprintf(out, "Image:        %s\n", resp.ImagePath)
	}
	if resp.Error != "" {
		fmt.Fprintf(out, "Error:        %s\n", resp.Error)
	}
	if gen.ParentID != "" {
		fmt.Fprintf(out, "Parent:       %s\n", gen.ParentID)
	}
	if gen.EditInstructions != "" {
		fmt.Fprintf(out, "Edit:         %s\n", gen.EditInstructions)
	}
	if len(gen.ReferencePhotoIDs) > 0 {
		fmt.Fprintf(out, "References:   %s\n", strings.Join(gen.ReferencePhotoIDs, ", "))
	}
	if len(gen.ComponentsUsed) > 0 {
		fmt.Fprintf(out, "Components:   %s\n", strings.Join(gen.ComponentsUsed, ", "))
	}
	fmt.Fprintf(out, "Favorite:     %s\n", yesNo(gen.IsFavorite))
	fmt.Fprintf(out, "Hidden:       %s\n", yesNo(gen.IsHidden))
	fmt.Fprintf(out, "Created:      %s\n", valueOrDash(gen.CreatedAt))
	fmt.Fprintln(out, "Prompt:")
	fmt.Fprintln(out, indentJSON(gen.PromptJSON))
}

func printGenerationTable(out io.Writer, items []api.Generation, colorize bool) {
	rows := make([][]string, 0, len(items))
	for _, gen := range items {
		flags := make([]string, 0, 3)
		if gen.IsFavorite {
			flags = append(flags, "fav")
		}
		if gen.IsHidden {
			flags = append(flags, "hidden")
		}
		if gen.ParentID != "" {
			flags = append(flags, "remix")
		}
		rows = append(rows, []string{
			gen.ID,
			colorCell(gen.Status, colorize),
			valueOrDash(strings.Join(flags, ",")),
			valueOrDash(gen.CreatedAt),
			truncate(valueOrDash(gen.ImagePath), 48),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Generation", "Status", "Flags", "Created", "Image"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	))
	fmt.Fprintln(out)
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
		return "  " + string(raw)
	}
	return "  " + buf.String()
}
