package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"atelier/internal/api"
	"atelier/internal/client"
)

type submitOptions struct {
	prompt         string
	promptFile     string
	text           string
	count          int
	refs           []string
	inline         []string
	components     []string
	googleSearch   bool
	safetyOverride bool
	asJSON         bool
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue one or more image generations",
		Long: "Queue image generations from a JSON prompt document.\n\n" +
			"Provide exactly one of --prompt, --prompt-file, or --text.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := opts.promptJSON(cmd.InOrStdin())
			if err != nil {
				return err
			}
			req := api.SubmitRequest{
				PromptJSON:           prompt,
				ReferencePhotoIDs:    opts.refs,
				InlineReferencePaths: opts.inline,
				ComponentsUsed:       opts.components,
				GoogleSearch:         opts.googleSearch,
				SafetyOverride:       opts.safetyOverride,
				Count:                opts.count,
			}
			return ctx.withClient(cmd, func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.Submit(c, req)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return writeJSON(cmd, resp)
				}
				return printSubmitResult(cmd, resp)
			})
		},
	}

	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "Prompt document as a JSON string")
	cmd.Flags().StringVarP(&opts.promptFile, "prompt-file", "f", "", "Read the prompt document from a file (- for stdin)")
	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "Plain-text prompt, wrapped as {\"prompt\": ...}")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "Number of generations to queue")
	cmd.Flags().StringSliceVar(&opts.refs, "ref", nil, "Reference photo ID (repeatable)")
	cmd.Flags().StringSliceVar(&opts.inline, "inline", nil, "Inline reference image path (repeatable)")
	cmd.Flags().StringSliceVar(&opts.components, "component", nil, "Prompt component name recorded with the generation (repeatable)")
	cmd.Flags().BoolVar(&opts.googleSearch, "google-search", false, "Allow the provider to ground the prompt with web search")
	cmd.Flags().BoolVar(&opts.safetyOverride, "safety-override", false, "Relax provider safety filtering where supported")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Output as JSON")
	return cmd
}

func (o submitOptions) promptJSON(in io.Reader) (json.RawMessage, error) {
	sources := 0
	for _, v := range []string{o.prompt, o.promptFile, o.text} {
		if strings.TrimSpace(v) != "" {
			sources++
		}
	}
	if sources == 0 {
		return nil, errors.New("a prompt is required: use --prompt, --prompt-file, or --text")
	}
	if sources > 1 {
		return nil, errors.New("--prompt, --prompt-file, and --text are mutually exclusive")
	}

	switch {
	case strings.TrimSpace(o.text) != "":
		data, err := json.Marshal(map[string]string{"prompt": strings.TrimSpace(o.text)})
		if err != nil {
			return nil, fmt.Errorf("encode text prompt: %w", err)
		}
		return data, nil
	case strings.TrimSpace(o.promptFile) != "":
		data, err := readPromptFile(in, strings.TrimSpace(o.promptFile))
		if err != nil {
			return nil, err
		}
		return validPromptJSON(data)
	default:
		return validPromptJSON([]byte(o.prompt))
	}
}

func readPromptFile(in io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read prompt from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	return data, nil
}

func validPromptJSON(data []byte) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if !json.Valid([]byte(trimmed)) {
		return nil, errors.New("prompt is not valid JSON")
	}
	return json.RawMessage(trimmed), nil
}

func printSubmitResult(cmd *cobra.Command, resp api.SubmitResponse) error {
	out := cmd.OutOrStdout()
	if len(resp.Items) == 0 {
		fmt.Fprintln(out, "Nothing queued")
		return nil
	}
	rows := make([][]string, 0, len(resp.Items))
	for i, item := range resp.Items {
		rows = append(rows, []string{
			strconv.Itoa(resp.Position + i),
			item.GenerationID,
			item.QueueID,
			statusLabel(item.Status),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Position", "Generation", "Queue Item", "Status"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Queued %d generation(s)\n", len(resp.Items))
	return nil
}
