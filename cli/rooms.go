package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	appendAuthor      string
	appendClientMsgID string
)

var appendCmd = &cobra.Command{
	Use:   "append ROOM PAYLOAD",
	Short: "Append an event to a room",
	Long:  `Append a JSON object event payload to a room's log, e.g. '{"type":"start_session","topic":"Vendor"}'.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("payload is not valid JSON")
		}
		body := map[string]any{
			"author":  appendAuthor,
			"payload": json.RawMessage(args[1]),
		}
		if appendClientMsgID != "" {
			body["client_msg_id"] = appendClientMsgID
		}
		var out map[string]any
		if err := NewClient(serverAddr).Do(cmd.Context(), http.MethodPost, "/v1/rooms/"+url.PathEscape(args[0])+"/events", body, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot ROOM",
	Short: "Show a room's last committed snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := NewClient(serverAddr).Do(cmd.Context(), http.MethodGet, "/v1/rooms/"+url.PathEscape(args[0])+"/snapshot", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := NewClient(serverAddr).Do(cmd.Context(), http.MethodGet, "/v1/rooms", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions ROOM",
	Short: "List a room's decisions with tallies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := NewClient(serverAddr).Do(cmd.Context(), http.MethodGet, "/v1/rooms/"+url.PathEscape(args[0])+"/decisions", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var terminateCmd = &cobra.Command{
	Use:   "terminate ROOM",
	Short: "Stop a room from accepting appends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := NewClient(serverAddr).Do(cmd.Context(), http.MethodPost, "/v1/rooms/"+url.PathEscape(args[0])+"/terminate", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show processor health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := NewClient(serverAddr).Do(cmd.Context(), http.MethodGet, "/health", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendAuthor, "author", "", "event author")
	appendCmd.Flags().StringVar(&appendClientMsgID, "client-msg-id", "", "idempotency key")
	rootCmd.AddCommand(appendCmd, snapshotCmd, roomsCmd, decisionsCmd, terminateCmd, healthCmd)
}
