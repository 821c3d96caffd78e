// Command copilot-console drives a running co-pilot service from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	baseURL string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "copilot-console: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "copilot-console",
		Short:         "Talk to the vehicle co-pilot service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "co-pilot service base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request and per-turn timeout")

	root.AddCommand(newSayCmd(opts), newInterpretCmd(opts), newIntentsCmd(opts))
	return root
}

func newSayCmd(opts *rootOptions) *cobra.Command {
	var (
		confirm bool
		userID  string
		speak   bool
	)
	cmd := &cobra.Command{
		Use:   "say <text...>",
		Short: "Open a session, send typed utterances and print the replies",
		Long: "Each argument separated by '|' is sent as its own utterance, in order, on one session.\n" +
			"Confirmation prompts are answered with --confirm.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			utterances := splitUtterances(strings.Join(args, " "))
			if len(utterances) == 0 {
				return fmt.Errorf("nothing to say")
			}
			c, err := newClient(opts.baseURL, opts.timeout)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout*time.Duration(len(utterances)+2))
			defer cancel()

			sessionID, err := c.createSession(ctx, userID, !speak)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			defer func() {
				_ = c.endSession(context.Background(), sessionID)
			}()

			conv, err := c.dial(ctx, sessionID, cmd.OutOrStdout(), confirm)
			if err != nil {
				return err
			}
			defer conv.Close()

			for _, text := range utterances {
				if _, err := conv.say(text, opts.timeout); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "answer yes to confirmation prompts (default: cancel)")
	cmd.Flags().StringVar(&userID, "user-id", "console", "user_id for the session")
	cmd.Flags().BoolVar(&speak, "speak", false, "request spoken responses (acknowledged immediately)")
	return cmd
}

func newInterpretCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interpret <text...>",
		Short: "Show how the service interprets an utterance without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts.baseURL, opts.timeout)
			if err != nil {
				return err
			}
			parsed, err := c.interpret(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "intent:     %s\n", parsed.Intent)
			fmt.Fprintf(out, "action:     %s\n", parsed.Action)
			fmt.Fprintf(out, "confidence: %.2f\n", parsed.Confidence)
			fmt.Fprintf(out, "confirm:    %t\n", parsed.RequiresConfirmation)
			keys := make([]string, 0, len(parsed.Parameters))
			for k := range parsed.Parameters {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "param:      %s=%s\n", k, parsed.Parameters[k])
			}
			return nil
		},
	}
}

func newIntentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "Print the trigger table in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(opts.baseURL, opts.timeout)
			if err != nil {
				return err
			}
			table, err := c.intents(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tINTENT\tACTION\tCONFIRM\tTRIGGER")
			for _, t := range table.Triggers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", t.Name, t.Intent, t.Action, t.Confirm, describeTrigger(t.Any, t.All, t.Prefixes))
			}
			return tw.Flush()
		},
	}
}

func describeTrigger(anyOf, allOf, prefixes []string) string {
	var parts []string
	if len(prefixes) > 0 {
		parts = append(parts, "prefix: "+strings.Join(prefixes, ", "))
	}
	if len(allOf) > 0 {
		parts = append(parts, "all: "+strings.Join(allOf, " + "))
	}
	if len(anyOf) > 0 {
		parts = append(parts, "any: "+strings.Join(anyOf, ", "))
	}
	return strings.Join(parts, "; ")
}

func splitUtterances(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
