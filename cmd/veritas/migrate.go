package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/store"
)

func migrateCMD() *cobra.Command {
	var cfgPath, dir string
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply graph store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn := cfg.Storage.Postgres.DSN()
			if cfg.Storage.Postgres.URL == "" && cfg.Storage.Postgres.Host == "" {
				return fmt.Errorf("storage.postgres not configured")
			}
			return store.Migrate(dir, dsn)
		},
	}
	migrate.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config)")
	migrate.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	return migrate
}
