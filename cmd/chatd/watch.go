package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/groblegark/kchat/internal/events"
)

var watchCmd = &cobra.Command{
	Use:     "watch <group>...",
	Short:   "Stream live events for one or more groups",
	GroupID: "live",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		useNATS, _ := cmd.Flags().GetBool("nats")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if useNATS {
			natsURL := os.Getenv("CHAT_NATS_URL")
			if natsURL == "" {
				natsURL = activeRemoteNATSURL()
			}
			if natsURL == "" {
				return fmt.Errorf("--nats requires CHAT_NATS_URL or an active remote with a NATS URL")
			}
			return watchNATS(ctx, natsURL, args)
		}
		return watchStream(ctx, args)
	},
}

// watchStream opens an SSE connection and prints events as they arrive. The
// server filters to groups the user is a member of.
func watchStream(ctx context.Context, groups []string) error {
	ch, cancel, err := chatClient.Stream(ctx, groups)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-ch:
			if !ok {
				return nil
			}
			if frame.ConnectionID != "" {
				fmt.Fprintf(os.Stderr, "connected (connection %s)\n", frame.ConnectionID)
				continue
			}
			printEvent(frame.Event)
		}
	}
}

// watchNATS tails the bridge subjects instead of holding a server connection.
// Membership is not enforced on this path; it sees every bridged event and
// filters locally.
func watchNATS(ctx context.Context, natsURL string, groups []string) error {
	want := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		want[g] = struct{}{}
	}

	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe("chat.>")
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := events.Decode(data)
			if err != nil {
				continue
			}
			if _, ok := want[e.GroupID]; !ok {
				continue
			}
			printEvent(e)
		}
	}
}

func init() {
	watchCmd.Flags().Bool("nats", false, "tail the NATS bridge instead of the SSE stream")
}
