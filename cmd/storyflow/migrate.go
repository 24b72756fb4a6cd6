package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/storyflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 执行 storyflow migrate <subcommand> [n] [--config path] [--driver name]
func runMigrate(args []string) {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) == 0 {
			os.Exit(1)
		}
		return
	}

	// 子命令及其数字参数在前，flag 在后
	split := len(args)
	for i, a := range args {
		if strings.HasPrefix(a, "--") {
			split = i
			break
		}
	}
	cmdArgs, flagArgs := args[:split], args[split:]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Database driver override (sqlite, postgres, mysql)")
	fs.Parse(flagArgs)

	cfg := mustLoadConfig(*configPath)
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	logger := initLogger(cliLogConfig(cfg.Log))
	defer logger.Sync()

	ctx := context.Background()
	migrator, err := migration.NewMigratorFromConfig(ctx, cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	err = migration.NewCLI(migrator).Run(ctx, cmdArgs)
	migrator.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  storyflow migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  status      Show migration status
  version     Show current migration version
  info        Show migration summary
  steps <n>   Apply (n>0) or rollback (n<0) n migrations
  force <v>   Force set migration version (use with caution)

Options:
  --config <path>   Path to configuration file (YAML)
  --driver <name>   Override database.driver (sqlite, postgres, mysql)

Examples:
  storyflow migrate up
  storyflow migrate up --config /etc/storyflow/config.yaml
  storyflow migrate steps -1
  storyflow migrate force 1`)
}
