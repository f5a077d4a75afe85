package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var upkeepAt string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show node status and the current round",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.Timeout)
		defer cancel()
		c := getClient()
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		round, err := c.Round(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"node":  status,
			"round": round,
		})
	},
}

var upkeepCmd = &cobra.Command{
	Use:   "upkeep",
	Short: "Evaluate upkeep readiness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var at time.Time
		if upkeepAt != "" {
			parsed, err := time.Parse(time.RFC3339, upkeepAt)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			at = parsed
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.Timeout)
		defer cancel()
		resp, err := getClient().Upkeep(ctx, at)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var playerCmd = &cobra.Command{
	Use:   "player <index>",
	Short: "Show the participant at index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.Timeout)
		defer cancel()
		player, err := getClient().Player(ctx, index)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"index": index, "player": player})
	},
}

func init() {
	upkeepCmd.Flags().StringVar(&upkeepAt, "at", "", "RFC3339 evaluation time; node clock when empty")
}
