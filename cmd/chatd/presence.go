package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groblegark/kchat/internal/presence"
)

var presenceCmd = &cobra.Command{
	Use:     "presence [user]",
	Short:   "Show presence for all tracked users, or one user",
	GroupID: "presence",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var records []*presence.Record
		if len(args) == 1 {
			record, err := chatClient.PresenceUser(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("fetching presence: %w", err)
			}
			records = []*presence.Record{record}
		} else {
			var err error
			records, err = chatClient.Presence(context.Background())
			if err != nil {
				return fmt.Errorf("fetching presence: %w", err)
			}
		}

		if jsonOutput {
			printJSON(records)
			return nil
		}
		printPresenceTable(records)
		return nil
	},
}

var onlineCmd = &cobra.Command{
	Use:     "online <group>",
	Short:   "List online members of a group",
	GroupID: "presence",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		online, err := chatClient.GroupOnline(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("fetching online members: %w", err)
		}
		if jsonOutput {
			printJSON(map[string]any{"group_id": args[0], "online": online})
			return nil
		}
		for _, u := range online {
			fmt.Println(u)
		}
		return nil
	},
}
