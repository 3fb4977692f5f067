package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/tempo/db"
	"github.com/teranos/tempo/sym"
)

// DbCmd represents the db command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the tempo database",
	Long: sym.DB + ` db — Manage the tempo database

Every command migrates the database on open; 'migrate' does only that.

Examples:
  tempo db migrate
  tempo db status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		versions, err := db.Versions(database)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s is at migration %s\n", sym.DB, cfg.Database.Path, latest(versions))
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		versions, err := db.Versions(database)
		if err != nil {
			return err
		}
		fmt.Printf("Database: %s\n", cfg.Database.Path)
		for _, v := range versions {
			fmt.Printf("  ✓ %s\n", v)
		}
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}

func latest(versions []string) string {
	if len(versions) == 0 {
		return "none"
	}
	return versions[len(versions)-1]
}
