package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tminus/tminus/internal/config"
	"github.com/tminus/tminus/internal/storage/sqlite"
)

var migrateSeedFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate <user-id>",
	Short: "Create or upgrade a user database",
	Long: `Open the user's database, applying the schema and any pending
migrations. With --seed, load policy edges, constraints, relationships and
milestones from a yaml fixture afterwards. Mirror writes implied by seeded
trips stay pending until serve picks them up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		userID := args[0]

		path := config.UserDBPath(userID)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fatalErr(fmt.Errorf("create data dir: %w", err))
		}

		store, err := sqlite.New(ctx, path)
		if err != nil {
			return fatalErr(fmt.Errorf("open %s: %w", path, err))
		}
		defer func() { _ = store.Close() }()

		applied, err := store.Migrations()
		if err != nil {
			return fatalErr(err)
		}
		fmt.Printf("%s: schema current, %d migrations applied\n", path, len(applied))
		for _, name := range applied {
			fmt.Printf("  %s\n", name)
		}

		if migrateSeedFile != "" {
			n, err := applySeed(ctx, store, migrateSeedFile)
			if err != nil {
				return fatalErr(fmt.Errorf("seed %s: %w", migrateSeedFile, err))
			}
			fmt.Printf("seeded %d objects from %s\n", n, migrateSeedFile)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSeedFile, "seed", "", "yaml fixture to load after migrating")
	rootCmd.AddCommand(migrateCmd)
}
