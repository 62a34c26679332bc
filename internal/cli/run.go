package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and preview every alert template",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CheckConfig()
	},
}

var testSinkMessage string

var testSinkCmd = &cobra.Command{
	Use:   "test-sink",
	Short: "Send one test message through the configured sink",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestSink(cmd.Context(), testSinkMessage)
	},
}

func init() {
	testSinkCmd.Flags().StringVar(&testSinkMessage, "message", "", "Message text (defaults to a timestamped test line)")
}
