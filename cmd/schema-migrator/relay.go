/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tryfix/errors"
	"github.com/tryfix/schemamigrator"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Copy Kafka records to the target cluster with schema ids of the target registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		path := a.conf.Migration.IDMap
		if path == `` {
			return errors.New(`migration.id-map (--id-map) is required for relay`)
		}

		ids, err := schemamigrator.LoadIDMap(fs, path)
		if err != nil {
			return err
		}

		if ids.Len() == 0 {
			return errors.New(fmt.Sprintf(`id map %s is empty, run a migration first`, path))
		}

		var validator schemamigrator.PayloadValidator
		if a.conf.Relay.Validate {
			if err := a.conf.Schema.Source.Registry.Validate(`schema.source.registry`); err != nil {
				return errors.WithPrevious(err, `relay.validate needs the source registry`)
			}

			source, err := schemamigrator.NewRegistry(a.conf.Schema.Source.Registry, schemamigrator.WithLogger(a.logger))
			if err != nil {
				return err
			}
			validator = source.GenericEncoder()
		}

		relay, err := schemamigrator.NewRelay(a.conf.Relay, ids, validator, a.logger)
		if err != nil {
			return err
		}
		defer relay.Close()

		return relay.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
