package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Maphikza/cardano-community-suite/internal/api"
	"github.com/Maphikza/cardano-community-suite/internal/config"
	statedb "github.com/Maphikza/cardano-community-suite/internal/database"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
)

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Mint an admin token for the HTTP API",
	Long: `Mint a bearer token for the admin routes (status changes, deletions and the
verification log). The signing key is shared with "serve" through jwt_keys_dir.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := "admin"
		if len(args) == 1 {
			subject = args[0]
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = config.Duration("admin_token_ttl", 24*time.Hour)
		}

		key, err := api.EnsureJWTKey(config.Path("jwt_keys_dir"))
		if err != nil {
			return err
		}
		token, err := api.GenerateAdminToken(key, subject, ttl)
		if err != nil {
			return err
		}
		printJSON(struct {
			Token     string `json:"token"`
			Subject   string `json:"subject"`
			ExpiresAt int64  `json:"expires_at"`
		}{token, subject, time.Now().Add(ttl).Unix()})
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [target-backend] [target-path]",
	Short: "Copy the store into another backend",
	Long: `Copy every challenge, registry entry and audit event from the configured store
into a store of the target backend (sqlite or badger). Records already present in the
target are skipped, so an interrupted migration can be rerun. Stop "serve" first.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.Component("migrate")

		src, err := openStore()
		if err != nil {
			return err
		}
		defer src.Close()

		target := statedb.DatabaseType(args[0])
		if target == statedb.DatabaseType(viper.GetString("store_backend")) && args[1] == config.Path("db_path") {
			return errors.New("target is the configured store")
		}
		dst, err := statedb.InitializeDatabase(target, args[1])
		if err != nil {
			return errors.Wrapf(err, "open %s target", target)
		}
		defer dst.Close()

		stats, err := statedb.CopyStore(context.Background(), src, dst)
		if err != nil {
			log.WithError(err).WithField("copied", stats).Error("migration stopped")
			return err
		}
		log.WithField("target", args[1]).Info("migration complete")
		printJSON(stats)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (defaults to admin_token_ttl)")
}
