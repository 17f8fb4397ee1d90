package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt...]",
	Short: "Generate a complete reply to a prompt",
	Long: `Send a single prompt and print the complete reply.

The prompt is read from stdin when no arguments are given or the only
argument is "-".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := promptFrom(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		result, err := s.client.GenerateText(cmd.Context(), prompt, generateOptions(cmd, nil))
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return printResult(cmd.OutOrStdout(), result, asJSON)
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream [prompt...]",
	Short: "Stream a reply to a prompt as it is generated",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := promptFrom(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		stream, err := s.client.StreamText(cmd.Context(), prompt, generateOptions(cmd, nil))
		if err != nil {
			return err
		}
		return copyStream(cmd.OutOrStdout(), stream)
	},
}

func init() {
	generateCmd.Flags().Bool("json", false, "Print the full result as JSON")
}

func printResult(w io.Writer, result *llm.GenerationResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	_, err := fmt.Fprintln(w, result.Text)
	return err
}

// copyStream writes fragments to w as they arrive. Text received before a
// failure stays written.
func copyStream(w io.Writer, stream llm.TextStream) error {
	defer stream.Close() //nolint:errcheck // Close only releases the connection
	for stream.Next() {
		if _, err := io.WriteString(w, stream.Text()); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintln(w)
	return stream.Err()
}
