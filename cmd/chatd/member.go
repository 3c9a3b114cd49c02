package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var memberCmd = &cobra.Command{
	Use:     "member",
	Short:   "Manage group membership",
	GroupID: "chat",
}

var memberListCmd = &cobra.Command{
	Use:   "list <group>",
	Short: "List members of a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		members, err := chatClient.GroupMembers(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("listing members: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]any{"group_id": args[0], "members": members})
			return nil
		}
		for _, m := range members {
			fmt.Println(m)
		}
		return nil
	},
}

var memberAddCmd = &cobra.Command{
	Use:   "add <group> <user>",
	Short: "Add a user to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := chatClient.AddMember(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("adding member: %w", err)
		}
		fmt.Printf("added %s to %s\n", args[1], args[0])
		return nil
	},
}

var memberRemoveCmd = &cobra.Command{
	Use:   "remove <group> <user>",
	Short: "Remove a user from a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := chatClient.RemoveMember(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("removing member: %w", err)
		}
		fmt.Printf("removed %s from %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	memberCmd.AddCommand(memberListCmd)
	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberRemoveCmd)
}
