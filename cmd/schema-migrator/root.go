/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"context"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tryfix/log"
	"github.com/tryfix/schemamigrator"
)

var (
	configFile string
	output     string
	v          *viper.Viper
	fs         = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:   "schema-migrator",
	Short: "schema-migrator registers schemas on a schema registry",
	Long: `schema-migrator moves schema definitions into a Confluent compatible Schema Registry.

Without a sub command the *.avsc files of the configured topic directories are migrated.`,
	SilenceUsage: true,
	RunE:         runMigrate,
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	v = schemamigrator.NewViper()

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, `config`, `c`, os.Getenv(`SCHEMA_MIGRATOR_CONFIG`),
		`YAML configuration file (or set SCHEMA_MIGRATOR_CONFIG)`)
	flags.StringVarP(&output, `output`, `o`, schemamigrator.FormatTable, `Report format: table, yaml or json`)
	flags.String(`log-level`, `INFO`, `Log level: TRACE, DEBUG, INFO, WARN, ERROR or FATAL`)
	flags.Bool(`dry-run`, false, `Report what would be registered without writing to the registry`)
	flags.Bool(`fail-on-error`, false, `Exit non zero when a schema fails to migrate`)
	flags.Duration(`watch`, 0, `Repeat the migration on this interval until interrupted`)
	flags.String(`id-map`, ``, `File the source to target schema id map is written to (read by relay)`)

	for key, flag := range map[string]string{
		`log.level`:                `log-level`,
		`migration.dry-run`:        `dry-run`,
		`migration.fail-on-error`:  `fail-on-error`,
		`migration.watch-interval`: `watch`,
		`migration.id-map`:         `id-map`,
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
}

// app holds what every command needs once the configuration is loaded
type app struct {
	conf   *schemamigrator.Config
	logger log.Logger
	target *schemamigrator.Registry
}

func setup() (*app, error) {
	conf, err := schemamigrator.LoadConfig(v, configFile)
	if err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	logger, err := schemamigrator.NewLogger(conf.Log)
	if err != nil {
		return nil, err
	}

	target, err := schemamigrator.NewRegistry(conf.Schema.Registry, schemamigrator.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &app{
		conf:   conf,
		logger: logger,
		target: target,
	}, nil
}
