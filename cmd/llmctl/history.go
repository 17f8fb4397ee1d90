package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/aschepis/backscratcher/llmbridge/conversations"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [thread]",
	Short: "List saved chat threads or print one",
	Long: `Without arguments, list the threads saved by 'llmctl chat --thread'.
With a thread name, print its messages since the last reset.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := conversations.Open(cfg.HistoryPath(), log)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck // read-only use
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			threads, err := store.Threads(cmd.Context())
			if err != nil {
				return err
			}
			if len(threads) == 0 {
				fmt.Fprintln(out, "No saved threads.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "THREAD\tMESSAGES\tUPDATED")
			for _, th := range threads {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", th.ID, th.Messages, th.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		}

		if reset, _ := cmd.Flags().GetBool("reset"); reset {
			if err := store.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Thread %q cleared.\n", args[0])
			return nil
		}

		messages, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("reset", false, "Clear the named thread")
}
