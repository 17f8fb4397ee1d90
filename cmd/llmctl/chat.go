package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/conversations"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/llm/google"
	"github.com/aschepis/backscratcher/llmbridge/retry"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation that keeps its history between turns.

Type /reset to start over and /exit to quit. With --thread the conversation
is saved to the history database and resumed on the next run. Gemini
conversations use the provider's chat session unless --stream or --thread
is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		useStream, _ := cmd.Flags().GetBool("stream")
		threadID, _ := cmd.Flags().GetString("thread")
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		history := llm.NewHistory()
		var (
			reset = func() error { history = llm.NewHistory(); return nil }
			saved = func(context.Context) error { return nil }
		)
		if threadID != "" {
			store, err := conversations.Open(s.cfg.HistoryPath(), s.logger)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // nothing useful to do on close failure

			rec, err := conversations.Resume(ctx, store, threadID)
			if err != nil {
				return err
			}
			history = rec.History()
			reset = func() error {
				if err := rec.Reset(ctx); err != nil {
					return err
				}
				history = rec.History()
				return nil
			}
			saved = func(ctx context.Context) error {
				id := s.raw.Identity()
				return rec.Save(ctx, id.Provider, id.Model)
			}
			fmt.Fprintf(out, "Resumed thread %q with %d messages.\n", threadID, history.Len())
		}

		var send sendFunc
		switch g, isGoogle := s.raw.(*google.Client); {
		case isGoogle && !useStream && threadID == "":
			policy := s.cfg.Retry.Policy()
			send = func(ctx context.Context, line string) error {
				result, err := retry.Do(ctx, policy, s.logger, llm.OperationGenerate, func(ctx context.Context) (*llm.GenerationResult, error) {
					return g.Chat(ctx, line, generateOptions(cmd, nil))
				})
				if err != nil {
					return err
				}
				return printResult(out, result, false)
			}
			reset = func() error { g.ResetSession(); return nil }
		case useStream:
			send = func(ctx context.Context, line string) error {
				stream, err := s.client.StreamText(ctx, line, generateOptions(cmd, history))
				if err != nil {
					return err
				}
				if err := copyStream(out, stream); err != nil {
					return err
				}
				return saved(ctx)
			}
		default:
			send = func(ctx context.Context, line string) error {
				result, err := s.client.GenerateText(ctx, line, generateOptions(cmd, history))
				if err != nil {
					return err
				}
				if err := printResult(out, result, false); err != nil {
					return err
				}
				return saved(ctx)
			}
		}

		id := s.raw.Identity()
		fmt.Fprintf(out, "Chatting with %s (%s). /reset clears the conversation, /exit quits.\n", id.Provider, id.Model)
		return chatLoop(ctx, cmd.InOrStdin(), out, send, func() error { return reset() })
	},
}

func init() {
	chatCmd.Flags().Bool("stream", false, "Stream replies as they are generated")
	chatCmd.Flags().String("thread", "", "Save the conversation under this name and resume it on the next run")
}

type sendFunc func(ctx context.Context, line string) error

// chatLoop reads one message per line and hands it to send. Provider errors
// are printed and the loop continues; the conversation is unchanged by a
// failed turn.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, send sendFunc, reset func() error) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := reset(); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "conversation cleared")
			continue
		}

		if err := send(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
