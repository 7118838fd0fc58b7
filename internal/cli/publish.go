package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"Fluxo/internal/bus"
)

var publishCmd = &cobra.Command{
	Use:   "publish <channel> <json>",
	Short: "Publish a raw JSON payload to an agent channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, payload := args[0], strings.TrimSpace(args[1])
		if !bus.Known(channel) {
			return fmt.Errorf("unknown channel %q, expected one of %s", channel, strings.Join(bus.Channels(), ", "))
		}
		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("payload must be valid JSON")
		}
		if err := getApp().Bus.Publish(cmd.Context(), channel, []byte(payload)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s\n", len(payload), channel)
		return nil
	},
}
