package main

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"ai_gateway/internal/models"
)

// credentialsCmd manages the caller's cloud API keys
func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage your cloud provider API keys",
	}
	cmd.AddCommand(credentialsSetCmd(), credentialsListCmd())
	return cmd
}

func credentialsSetCmd() *cobra.Command {
	var defaultModel string
	cmd := &cobra.Command{
		Use:   "set <provider> [api-key]",
		Short: "Store an API key",
		Long: `Store an API key for a cloud provider. When the key is omitted it is
read from standard input so it does not end up in shell history.

Examples:
  gatewayctl credentials set openai --default-model gpt-4o-mini < key.txt
  gatewayctl credentials set gemini AIza...`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 2 {
				key = args[1]
			} else {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("no API key given")
				}
				key = strings.TrimSpace(line)
			}

			ctx, cancel := requestContext(timeout)
			defer cancel()
			body := map[string]string{"api_key": key, "default_model": defaultModel}
			data, err := client().do(ctx, http.MethodPut, "/v1/credentials/"+url.PathEscape(args[0]), body)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(data))
				return nil
			}

			var masked models.MaskedCredential
			if err := json.Unmarshal(data, &masked); err != nil {
				return err
			}
			fmt.Printf("%s stored %s key %s\n", okMark(), masked.Provider, masked.MaskedKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&defaultModel, "default-model", "", "Model to use when routing to this provider")
	return cmd
}

func credentialsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored keys (masked)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(timeout)
			defer cancel()
			data, err := client().do(ctx, http.MethodGet, "/v1/credentials", nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(data))
				return nil
			}

			var resp struct {
				Data []models.MaskedCredential `json:"data"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return err
			}
			fmt.Print(renderCredentials(resp.Data))
			return nil
		},
	}
}
