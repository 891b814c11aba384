package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/shoprelay/internal/messaging"
	"github.com/zulandar/shoprelay/internal/thread"
)

func newThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Inspect and operate on conversation threads",
	}

	cmd.AddCommand(newThreadListCmd())
	cmd.AddCommand(newThreadShowCmd())
	cmd.AddCommand(newThreadSendCmd())
	cmd.AddCommand(newThreadRetryCmd())
	cmd.AddCommand(newThreadResumeCmd())
	return cmd
}

func newThreadListCmd() *cobra.Command {
	var (
		configPath string
		shopID     uint
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			threads, err := thread.List(a.db, thread.ListFilter{ShopID: shopID, Status: status, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(threads) == 0 {
				fmt.Fprintln(out, "No threads found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSHOP\tPLATFORM\tCUSTOMER\tSTATUS\tAGENT\tUNREAD\tLAST MESSAGE")
			for _, t := range threads {
				customer := t.CustomerName
				if customer == "" {
					customer = t.PlatformUserID
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
					t.ID, t.ShopID, t.Platform, truncate(customer, 24), t.Status, t.AgentStatus,
					t.UnreadCount, t.LastMessageAt.Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().UintVar(&shopID, "shop", 0, "filter by shop id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, resolved, archived)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum threads to list")
	return cmd
}

func newThreadShowCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a thread and its recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			t, err := thread.Get(a.db, id)
			if err != nil {
				return err
			}
			msgs, err := messaging.Recent(a.db, id, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Thread %d (%s %s)\n", t.ID, t.Platform, t.PlatformUserID)
			if t.CustomerName != "" {
				fmt.Fprintf(out, "Customer:  %s\n", t.CustomerName)
			}
			fmt.Fprintf(out, "Status:    %s\n", t.Status)
			agentLine := t.AgentStatus
			if t.AgentPausedReason != "" {
				agentLine += " (" + t.AgentPausedReason + ")"
			}
			fmt.Fprintf(out, "Agent:     %s\n", agentLine)
			fmt.Fprintf(out, "Messages:  %d  Tokens: %s  Cost: $%.4f\n",
				t.TotalMessages, formatTokenCount(int64(t.TotalTokens)), t.TotalCostUSD)
			if t.ScheduledJobID != nil {
				fmt.Fprintf(out, "Batch job: %s\n", *t.ScheduledJobID)
			}
			fmt.Fprintln(out)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tROLE\tCONTENT")
			for _, m := range msgs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					m.ID, m.Timestamp.Format(time.DateTime), m.Role, truncate(oneLine(m.Content), 80))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent messages to show")
	return cmd
}

func newThreadSendCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "send <id> <text>",
		Short: "Send a message as a human agent and pause automation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			op, err := a.operator(false)
			if err != nil {
				return err
			}
			msg, err := op.SendHumanMessage(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %d; thread %d is now paused\n", msg.ID, id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newThreadRetryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "retry <thread-id> <message-id>",
		Short: "Regenerate the reply from a message onward",
		Long: `Regenerates the agent reply to the latest customer message at or before
<message-id>, ignoring everything after it, and sends the new reply.
Existing messages are kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			messageID, err := parseID(args[1])
			if err != nil {
				return err
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			op, err := a.operator(true)
			if err != nil {
				return err
			}
			res, err := op.Retry(cmd.Context(), threadID, messageID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range res.Messages {
				fmt.Fprintf(out, "%d\t%s\n", m.ID, oneLine(m.Content))
			}
			if res.Handoff {
				fmt.Fprintf(out, "Thread handed off: %s\n", res.HandoffReason)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newThreadResumeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Hand a paused or handed-off thread back to the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			op, err := a.operator(false)
			if err != nil {
				return err
			}
			if err := op.ResumeThread(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Thread %d resumed\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}
