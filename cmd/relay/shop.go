package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/shoprelay/internal/operator"
	"github.com/zulandar/shoprelay/internal/shop"
)

func newShopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shop",
		Short: "Pause, resume and inspect automated replies per shop",
	}

	cmd.AddCommand(newShopPauseCmd())
	cmd.AddCommand(newShopResumeCmd())
	cmd.AddCommand(newShopStatusCmd())
	return cmd
}

func newShopPauseCmd() *cobra.Command {
	var (
		configPath string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "pause <shop>",
		Short: "Stop automated replies for every thread of a shop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShop(configPath, args[0], func(op *operator.Service, s uint) error {
				if err := op.PauseShop(s, reason); err != nil {
					return err
				}
				return printShopStatus(cmd.OutOrStdout(), op, s)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&reason, "reason", "", "why automation is paused")
	return cmd
}

func newShopResumeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resume <shop>",
		Short: "Re-enable automated replies for a shop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShop(configPath, args[0], func(op *operator.Service, s uint) error {
				if err := op.ResumeShop(s); err != nil {
					return err
				}
				return printShopStatus(cmd.OutOrStdout(), op, s)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newShopStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <shop>",
		Short: "Show whether a shop's automated replies are paused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShop(configPath, args[0], func(op *operator.Service, s uint) error {
				return printShopStatus(cmd.OutOrStdout(), op, s)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// withShop resolves ref, a shop id or name, and runs fn with an operator
// service.
func withShop(configPath, ref string, fn func(op *operator.Service, shopID uint) error) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	var shopID uint
	if id, err := parseID(ref); err == nil {
		shopID = id
	} else {
		s, err := shop.GetByName(a.db, ref)
		if err != nil {
			return err
		}
		shopID = s.ID
	}

	op, err := a.operator(false)
	if err != nil {
		return err
	}
	return fn(op, shopID)
}

func printShopStatus(out io.Writer, op *operator.Service, shopID uint) error {
	st, err := op.ShopStatus(shopID)
	if err != nil {
		return err
	}
	state := "active"
	if st.AgentPaused {
		state = "paused"
	}
	fmt.Fprintf(out, "Shop %d: %s\n", st.ShopID, state)
	if st.AgentPaused {
		if st.AgentPausedReason != "" {
			fmt.Fprintf(out, "  Reason: %s\n", st.AgentPausedReason)
		}
		if st.AgentPausedAt != nil {
			fmt.Fprintf(out, "  Since:  %s\n", st.AgentPausedAt.Format(time.DateTime))
		}
	}
	if !st.AutoReplyEnabled {
		fmt.Fprintln(out, "  Auto-reply is disabled in config")
	}
	return nil
}
