package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ai_gateway/internal/auth"
	"ai_gateway/internal/storage"
)

// tokenCmd mints a bearer token with the gateway's JWT secret. Meant for
// development and operators; production identities come from the
// surrounding platform.
func tokenCmd() *cobra.Command {
	var (
		userID int64
		roles  []string
		ttl    time.Duration
		secret string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token",
		Long: `Mint an HS256 bearer token signed with JWT_SECRET.

Examples:
  export GATEWAY_TOKEN=$(gatewayctl token --user 1 --role admin)
  gatewayctl token --user 42 --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			if userID <= 0 {
				return fmt.Errorf("--user must be positive")
			}

			parsed := make([]auth.Role, 0, len(roles))
			for _, r := range roles {
				role := auth.Role(r)
				if !role.IsValid() {
					return fmt.Errorf("unknown role %q", r)
				}
				parsed = append(parsed, role)
			}

			tok, expires, err := auth.GenerateToken(userID, parsed, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			fmt.Fprintf(os.Stderr, "expires %s\n", time.Unix(expires, 0).Local().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().StringSliceVar(&roles, "role", []string{string(auth.RoleUser)}, "Role(s): user, admin")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret")
	return cmd
}

// keygenCmd prints a fresh ENCRYPTION_KEY
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := storage.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}
