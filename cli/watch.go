package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch ROOM",
	Short: "Stream a room's committed snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := NewClient(serverAddr).WatchURL(args[0])
		if err != nil {
			return err
		}
		conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), addr, nil)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer conn.Close()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		defer signal.Stop(interrupt)
		go func() {
			<-interrupt
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}()

		out := cmd.OutOrStdout()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			var snap map[string]any
			if err := json.Unmarshal(data, &snap); err != nil {
				fmt.Fprintf(out, "unreadable message: %s\n", data)
				continue
			}
			fmt.Fprintf(out, "\n[offset %v]\n", snap["last_committed_offset"])
			if err := printJSON(out, snap); err != nil {
				return err
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
