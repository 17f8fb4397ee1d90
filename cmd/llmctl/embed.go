package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/spf13/cobra"
)

var embedCmd = &cobra.Command{
	Use:   "embed [text...]",
	Short: "Embed texts and print their vectors",
	Long: `Embed each argument as one text. With no arguments, each non-empty line
of stdin is one text.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		texts := args
		if len(texts) == 0 {
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				if line := strings.TrimSpace(scanner.Text()); line != "" {
					texts = append(texts, line)
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("reading texts from stdin: %w", err)
			}
		}

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		docType, _ := cmd.Flags().GetString("type")
		result, err := s.client.EmbedText(cmd.Context(), texts, llm.DocumentType(docType))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		fmt.Fprintf(out, "%s (%s)\n", result.Model, result.Provider)
		for i, v := range result.Vectors {
			fmt.Fprintf(out, "%d\t%d dims\t%s\n", i, len(v), preview(v, 4))
		}
		return nil
	},
}

func init() {
	embedCmd.Flags().String("type", string(llm.DocumentTypeText), "Document type: text, html, pdf, docx or query")
	embedCmd.Flags().Bool("json", false, "Print the full result as JSON")
}

func preview(v []float32, n int) string {
	parts := make([]string, 0, n+1)
	for i, x := range v {
		if i == n {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, fmt.Sprintf("%.4f", x))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
