package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/groblegark/kchat/internal/events"
	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/presence"
	"github.com/groblegark/kchat/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printMessage(msg *model.Message) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", msg.ID)
	fmt.Fprintf(w, "Group:\t%s\n", msg.GroupID)
	fmt.Fprintf(w, "Sender:\t%s\n", msg.Sender)
	fmt.Fprintf(w, "Created:\t%s\n", msg.CreatedAt.Local().Format(time.RFC822))
	if !msg.UpdatedAt.Equal(msg.CreatedAt) {
		fmt.Fprintf(w, "Updated:\t%s\n", msg.UpdatedAt.Local().Format(time.RFC822))
	}
	w.Flush()
	fmt.Println()
	fmt.Println(msg.Content)
}

func printPresenceTable(records []*presence.Record) {
	if len(records) == 0 {
		fmt.Println("no presence records")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tSTATUS\tCONNS\tLAST SEEN")
	for _, r := range records {
		status := ui.RenderOffline("offline")
		if r.Online {
			status = ui.RenderOnline("online")
		}
		lastSeen := ""
		if !r.LastSeen.IsZero() {
			lastSeen = r.LastSeen.Local().Format(time.RFC822)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.UserID, status, r.Connections, ui.RenderMuted(lastSeen))
	}
	w.Flush()
}

// printEvent writes one live event as a single line.
func printEvent(e *events.Event) {
	ts := ui.RenderMuted(e.OriginTS.Local().Format("15:04:05"))
	kind := ui.RenderKind(string(e.Kind))
	fmt.Printf("%s %s %s %s\n", ts, kind, e.GroupID, string(e.Payload))
}
