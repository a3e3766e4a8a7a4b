/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tryfix/schemamigrator"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Register the *.avsc files of the configured topic directories",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy every subject version of the source registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		src, err := registrySource(a)
		if err != nil {
			return err
		}

		return migrate(cmd, a, src)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Register the live subjects found in a registry storage topic",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		src, err := schemamigrator.NewStorageTopicSource(a.conf.Schema.Source.Storage, a.conf.Schema.Source.SubjectFilter, a.logger)
		if err != nil {
			return err
		}

		return migrate(cmd, a, src)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, copyCmd, restoreCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	a, err := setup()
	if err != nil {
		return err
	}

	return migrate(cmd, a, directorySource(a))
}

func directorySource(a *app) *schemamigrator.DirectorySource {
	return schemamigrator.NewDirectorySource(
		a.conf.Schema.Topics,
		schemamigrator.ParseSubjectStrategy(a.conf.Schema.Subject.Strategy),
		schemamigrator.WithFs(fs),
		schemamigrator.WithWorkers(a.conf.Migration.Workers),
		schemamigrator.WithSourceLogger(a.logger),
	)
}

func registrySource(a *app) (*schemamigrator.RegistrySource, error) {
	if err := a.conf.Schema.Source.Registry.Validate(`schema.source.registry`); err != nil {
		return nil, err
	}

	source, err := schemamigrator.NewRegistry(a.conf.Schema.Source.Registry, schemamigrator.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	return schemamigrator.NewRegistrySource(source, a.conf.Schema.Source.SubjectFilter, a.conf.Migration.Workers, a.logger)
}

// migrate runs the migration once or, with a watch interval, until the command context is done
func migrate(cmd *cobra.Command, a *app, src schemamigrator.Source) error {
	m := schemamigrator.NewMigrator(a.target, a.conf.Migration, a.logger)

	pass := func(ctx context.Context) error {
		report, err := m.Run(ctx, src)
		if report != nil {
			if printErr := report.Print(cmd.OutOrStdout(), output); printErr != nil {
				return printErr
			}
		}

		if saveErr := saveIDMap(a, m.IDMap()); saveErr != nil {
			return saveErr
		}

		return err
	}

	return schemamigrator.Watch(cmd.Context(), a.conf.Migration.WatchInterval, a.logger, pass)
}

// saveIDMap merges the ids of this run into the configured id map file
func saveIDMap(a *app, ids *schemamigrator.IDMap) error {
	path := a.conf.Migration.IDMap
	if path == `` || ids.Len() == 0 {
		return nil
	}

	existing, err := schemamigrator.LoadIDMap(fs, path)
	if err != nil {
		return err
	}
	existing.Merge(ids)

	if err := existing.Save(fs, path); err != nil {
		return err
	}

	a.logger.Debug(fmt.Sprintf(`%d schema id mapping/s written to %s`, existing.Len(), path))

	return nil
}
