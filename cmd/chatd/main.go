package main

import (
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groblegark/kchat/internal/client"
	"github.com/groblegark/kchat/internal/ui"
)

var (
	httpURL    string
	authToken  string
	userName   string
	jsonOutput bool

	chatClient *client.HTTPClient
)

func defaultUser() string {
	if s := os.Getenv("CHAT_USER"); s != "" {
		return s
	}
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			return name
		}
	}
	return "unknown"
}

func defaultHTTPURL() string {
	if s := os.Getenv("CHAT_HTTP_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("CHAT_AUTH_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

var rootCmd = &cobra.Command{
	Use:   "chatd <command>",
	Short: "Realtime chat event distribution service and client",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		chatClient = client.NewHTTPClient(httpURL, authToken, userName)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if chatClient != nil {
			chatClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token for the server")
	rootCmd.PersistentFlags().StringVar(&userName, "user", defaultUser(), "user identity for requests")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "chat", Title: "Chat:"},
		&cobra.Group{ID: "presence", Title: "Presence:"},
		&cobra.Group{ID: "live", Title: "Live:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false

	// Chat
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(reactCmd)
	rootCmd.AddCommand(typingCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(memberCmd)

	// Presence
	rootCmd.AddCommand(presenceCmd)
	rootCmd.AddCommand(onlineCmd)

	// Live
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
