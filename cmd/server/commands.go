package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediafetch/backend/internal/adapter"
	"github.com/mediafetch/backend/internal/auth"
	"github.com/mediafetch/backend/internal/config"
	"github.com/mediafetch/backend/internal/db"
	"github.com/mediafetch/backend/internal/resolver"
)

var (
	resolveSkipCache bool
	resolveIgnore    bool
	tokenSubject     string
	tokenTTL         time.Duration
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Resolve one URL and print the API response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		// only the result cache is shared with the server
		a, err := newApp(ctx, cfg, appOptions{redis: true})
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		res := a.resolver.Resolve(ctx, resolver.Request{
			URL:               args[0],
			SkipCache:         resolveSkipCache,
			IgnoreHealthCheck: resolveIgnore,
		})

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if !res.Result.Success {
			appErr := adapter.ToError(res.Result)
			enc.Encode(appErr)
			return fmt.Errorf("resolve failed: %s", appErr.Code)
		}
		return enc.Encode(adapter.ToResponse(res.Detection.Provider, res.Detection.MediaID, res.Result, res.Cached))
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an API key and print it once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := db.New(db.DSN(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode))
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(); err != nil {
			return err
		}

		svc := auth.NewService(db.NewAPIKeyRepository(database), cfg.Auth.JWTSecret)
		plaintext, key, err := svc.CreateKey(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "id:   %s\nname: %s\nkey:  %s\n", key.ID, key.Name, plaintext)
		fmt.Fprintln(cmd.ErrOrStderr(), "store the key now; it cannot be shown again")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue tokens",
}

var tokenAdminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Issue an admin JWT for the /api/v1/admin endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.SecretGenerated {
			return fmt.Errorf("auth.jwt_secret (or %s_AUTH_JWT_SECRET) must be set to issue tokens the server accepts", config.EnvPrefix)
		}
		subject := tokenSubject
		if subject == "" {
			subject = os.Getenv("USER")
		}
		if subject == "" {
			subject = "admin"
		}
		token, err := auth.NewService(nil, cfg.Auth.JWTSecret).IssueAdminToken(subject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveSkipCache, "skip-cache", false, "ignore cached results")
	resolveCmd.Flags().BoolVar(&resolveIgnore, "ignore-health", false, "run methods even while their breaker is open")

	tokenAdminCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (default: current user)")
	tokenAdminCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	tokenCmd.AddCommand(tokenAdminCmd)
	rootCmd.AddCommand(resolveCmd, apikeyCmd, tokenCmd)
	rootCmd.SetOut(os.Stdout)
}
