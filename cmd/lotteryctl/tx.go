package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

var (
	enterAmount string

	triggerPerformData string

	depositTo     string
	depositAmount string
)

var enterCmd = &cobra.Command{
	Use:   "enter",
	Short: "Enter the current round",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if enterAmount == "" {
			return fmt.Errorf("--amount is required")
		}
		return submit(cmd, protocol.OpLotteryEnter, protocol.LotteryEnterPayload{Amount: enterAmount})
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Request a winner for the current round",
	Long:  "Submit a LOTTERY_TRIGGER. The node rejects it unless upkeep is needed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, protocol.OpLotteryTrigger, protocol.LotteryTriggerPayload{PerformData: triggerPerformData})
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Mint a balance to an account (admin only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if depositTo == "" || depositAmount == "" {
			return fmt.Errorf("--to and --amount are required")
		}
		to, err := protocol.NormalizeAddress(depositTo)
		if err != nil {
			return err
		}
		return submit(cmd, protocol.OpAccountDeposit, protocol.AccountDepositPayload{To: to, Amount: depositAmount})
	},
}

func init() {
	enterCmd.Flags().StringVar(&enterAmount, "amount", "", "amount paid, in the smallest unit")
	triggerCmd.Flags().StringVar(&triggerPerformData, "perform-data", "", "opaque hex hint forwarded to the lottery")
	depositCmd.Flags().StringVar(&depositTo, "to", "", "recipient address")
	depositCmd.Flags().StringVar(&depositAmount, "amount", "", "amount to mint, in the smallest unit")
}

func submit(cmd *cobra.Command, op protocol.Operation, payload any) error {
	key, err := signingKey()
	if err != nil {
		return err
	}
	tx, err := protocol.NewSignedTx(key, op, payload, time.Now())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.Timeout)
	defer cancel()
	resp, err := getClient().SubmitTx(ctx, tx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}
