package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var messageCmd = &cobra.Command{
	Use:     "message",
	Short:   "Show, edit, or delete a message",
	GroupID: "chat",
}

var messageShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := chatClient.GetMessage(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("fetching message: %w", err)
		}
		if jsonOutput {
			printJSON(msg)
		} else {
			printMessage(msg)
		}
		return nil
	},
}

var messageEditCmd = &cobra.Command{
	Use:   "edit <id> <text>...",
	Short: "Edit a message's content",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args[1:], " ")
		msg, err := chatClient.UpdateMessage(context.Background(), args[0], content)
		if err != nil {
			return fmt.Errorf("updating message: %w", err)
		}
		if jsonOutput {
			printJSON(msg)
		} else {
			fmt.Printf("updated %s\n", msg.ID)
		}
		return nil
	},
}

var messageDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := chatClient.DeleteMessage(context.Background(), args[0]); err != nil {
			return fmt.Errorf("deleting message: %w", err)
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var reactCmd = &cobra.Command{
	Use:     "react <message-id> <emoji>",
	Short:   "Add or remove a reaction on a message",
	GroupID: "chat",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remove, _ := cmd.Flags().GetBool("remove")
		if remove {
			if err := chatClient.RemoveReaction(context.Background(), args[0], args[1]); err != nil {
				return fmt.Errorf("removing reaction: %w", err)
			}
			return nil
		}
		if _, err := chatClient.AddReaction(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("adding reaction: %w", err)
		}
		return nil
	},
}

func init() {
	messageCmd.AddCommand(messageShowCmd)
	messageCmd.AddCommand(messageEditCmd)
	messageCmd.AddCommand(messageDeleteCmd)
	reactCmd.Flags().Bool("remove", false, "remove the reaction instead of adding it")
}
