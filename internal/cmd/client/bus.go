package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/pollbus/internal/api/busv1"
	transports "github.com/rzbill/pollbus/internal/cmd/client/transports"
)

func transportFor(cmd *cobra.Command, baseURL BaseURLFunc) (transports.BusTransport, error) {
	kind, _ := cmd.Flags().GetString("transport")
	return getTransport(kind, baseURL)
}

// newSendCommand constructs `send`.
func newSendCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish a message to a channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			data, _ := cmd.Flags().GetString("data")
			entriesJSON, _ := cmd.Flags().GetString("entries-json")

			var entries []busv1.Entry
			if entriesJSON != "" {
				if err := json.Unmarshal([]byte(entriesJSON), &entries); err != nil {
					return fmt.Errorf("invalid --entries-json: %w", err)
				}
			}
			if channel != "" {
				entries = append(entries, busv1.Entry{Channel: channel, Payload: payloadArg(data)})
			}
			if len(entries) == 0 {
				return fmt.Errorf("--channel or --entries-json is required")
			}
			tr, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			ids, err := tr.Send(contextOf(cmd), entries)
			if err != nil {
				return err
			}
			b, _ := json.Marshal(map[string]any{"ids": ids})
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().String("channel", "", "Channel name")
	cmd.Flags().String("data", "null", "Payload; sent as JSON when it parses, else as a JSON string")
	cmd.Flags().String("entries-json", "", `Batch as JSON: [{"channel":"a","payload":1}, ...]`)
	return cmd
}

// newPollCommand constructs `poll`.
func newPollCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Long-poll channels for messages newer than a cursor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, _ := cmd.Flags().GetStringArray("channel")
			last, _ := cmd.Flags().GetUint64("last")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			filter, _ := cmd.Flags().GetString("filter")
			follow, _ := cmd.Flags().GetBool("follow")
			if len(channels) == 0 {
				return fmt.Errorf("at least one --channel is required")
			}
			tr, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt)
			defer stop()

			for {
				res, err := tr.Poll(ctx, busv1.PollRequest{
					Channels:  channels,
					Last:      last,
					TimeoutMs: timeout.Milliseconds(),
					Filter:    filter,
				})
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				for _, m := range res.Messages {
					if err := printMessage(cmd.OutOrStdout(), m); err != nil {
						return err
					}
				}
				last = res.Last
				if !follow {
					fmt.Fprintf(cmd.ErrOrStderr(), "last: %d\n", last)
					return nil
				}
			}
		},
	}
	cmd.Flags().StringArray("channel", nil, "Channel to poll (repeatable)")
	cmd.Flags().Uint64("last", 0, "Cursor: highest id already seen; 0 reads the retention window")
	cmd.Flags().Duration("timeout", 30*time.Second, "Wait at most this long for a message")
	cmd.Flags().String("filter", "", "CEL filter, e.g. json.kind == 'chat'")
	cmd.Flags().Bool("follow", false, "Keep polling, advancing the cursor")
	return cmd
}

// newStreamCommand constructs `stream`.
func newStreamCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream messages as they arrive (SSE or gRPC)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, _ := cmd.Flags().GetStringArray("channel")
			last, _ := cmd.Flags().GetUint64("last")
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			if len(channels) == 0 {
				return fmt.Errorf("at least one --channel is required")
			}
			tr, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt)
			defer stop()

			n := 0
			return tr.Stream(ctx, busv1.StreamRequest{Channels: channels, Last: last, Filter: filter}, func(m busv1.Message) error {
				if err := printMessage(cmd.OutOrStdout(), m); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					return transports.ErrStop
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArray("channel", nil, "Channel to stream (repeatable)")
	cmd.Flags().Uint64("last", 0, "Start after this id")
	cmd.Flags().String("filter", "", "CEL filter")
	cmd.Flags().Int("limit", 0, "Stop after this many messages (0 = unlimited)")
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
