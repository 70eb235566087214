// Command gatewayctl administers and exercises a running AI gateway.
package main

import (
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	gatewayURL string
	token      string
	jsonOutput bool
	timeout    time.Duration
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Administer and exercise an AI gateway",
		Long: `gatewayctl talks to a running gateway over its HTTP API.

The gateway address and bearer token default to GATEWAY_URL and
GATEWAY_TOKEN. Use 'gatewayctl token' to mint a development token.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&gatewayURL, "url", envOr("GATEWAY_URL", "http://localhost:8080"), "Gateway base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("GATEWAY_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON responses")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout, 0 for none")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "admin", Title: "Administration:"},
		&cobra.Group{ID: "user", Title: "Usage:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	nodes := nodesCmd()
	nodes.GroupID = "admin"
	rootCmd.AddCommand(nodes)

	creds := credentialsCmd()
	creds.GroupID = "user"
	rootCmd.AddCommand(creds)

	generate := generateCmd()
	generate.GroupID = "user"
	rootCmd.AddCommand(generate)

	models := modelsCmd()
	models.GroupID = "user"
	rootCmd.AddCommand(models)

	tok := tokenCmd()
	tok.GroupID = "setup"
	rootCmd.AddCommand(tok)

	keygen := keygenCmd()
	keygen.GroupID = "setup"
	rootCmd.AddCommand(keygen)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func client() *apiClient {
	return newAPIClient(gatewayURL, token)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

