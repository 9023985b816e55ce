package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/BaSui01/sigflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 对 attempt_log.database 执行版本化迁移
func runMigrate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	dbURL := fs.String("url", "", "Database URL (overrides attempt_log.database)")
	driver := fs.String("driver", "", "Database driver when --url is given: postgres, mysql, sqlite")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	var m *migration.DefaultMigrator
	if *dbURL != "" {
		d := *driver
		if d == "" {
			d = cfg.AttemptLog.Database.Driver
		}
		m, err = migration.NewMigratorFromURL(d, *dbURL, logger)
	} else {
		m, err = migration.NewMigratorFromConfig(cfg, logger)
	}
	if err != nil {
		return err
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)
	err = cli.Run(context.Background(), fs.Args())
	var usage *migration.UsageError
	if errors.As(err, &usage) {
		return &exitError{code: 2, msg: usage.Msg}
	}
	return err
}
