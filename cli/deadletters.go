package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	dlRoom            string
	dlIncludeReplayed bool
)

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List dead-lettered events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if dlRoom != "" {
			q.Set("room_id", dlRoom)
		}
		if dlIncludeReplayed {
			q.Set("include_replayed", "true")
		}
		path := "/v1/dead_letters"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var out map[string]any
		if err := NewClient(serverAddr).Do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay ID",
	Short: "Re-append a dead-lettered event to its room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid dead letter id %q", args[0])
		}
		var out map[string]any
		if err := NewClient(serverAddr).Do(cmd.Context(), http.MethodPost, fmt.Sprintf("/v1/dead_letters/%d/replay", id), nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	deadLettersCmd.Flags().StringVar(&dlRoom, "room", "", "only this room")
	deadLettersCmd.Flags().BoolVar(&dlIncludeReplayed, "include-replayed", false, "include replayed dead letters")
	rootCmd.AddCommand(deadLettersCmd, replayCmd)
}
