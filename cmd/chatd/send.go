package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:     "send <group> <text>...",
	Short:   "Send a message to a group",
	GroupID: "chat",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID := args[0]
		content := strings.Join(args[1:], " ")

		msg, err := chatClient.CreateMessage(context.Background(), groupID, content)
		if err != nil {
			return fmt.Errorf("sending message: %w", err)
		}

		if jsonOutput {
			printJSON(msg)
		} else {
			fmt.Printf("sent %s to %s\n", msg.ID, msg.GroupID)
		}
		return nil
	},
}

var typingCmd = &cobra.Command{
	Use:     "typing <group>",
	Short:   "Broadcast a typing indicator to a group",
	GroupID: "chat",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stop, _ := cmd.Flags().GetBool("stop")
		if err := chatClient.NotifyTyping(context.Background(), args[0], !stop); err != nil {
			return fmt.Errorf("sending typing indicator: %w", err)
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:     "read <group> <message-id>",
	Short:   "Mark a group as read up to a message",
	GroupID: "chat",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := chatClient.MarkRead(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("marking read: %w", err)
		}
		return nil
	},
}

func init() {
	typingCmd.Flags().Bool("stop", false, "signal that typing has stopped")
}
