package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command holding the bus client commands.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "pollbus",
		Short: "pollbus client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers send, poll and stream on parent along with the
// persistent --transport flag.
func AddCommands(parent *cobra.Command, baseURL BaseURLFunc) {
	parent.PersistentFlags().String("transport", "http", "Client transport: http|grpc")
	parent.AddCommand(
		newSendCommand(baseURL),
		newPollCommand(baseURL),
		newStreamCommand(baseURL),
	)
}
