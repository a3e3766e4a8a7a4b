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

var verifyFrom string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare a source with the target registry without writing to it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		var src schemamigrator.Source
		switch verifyFrom {
		case `dirs`:
			src = directorySource(a)
		case `registry`:
			if src, err = registrySource(a); err != nil {
				return err
			}
		case `storage`:
			if src, err = schemamigrator.NewStorageTopicSource(a.conf.Schema.Source.Storage, a.conf.Schema.Source.SubjectFilter, a.logger); err != nil {
				return err
			}
		default:
			return errors.New(fmt.Sprintf(`unknown source %s, expected dirs, registry or storage`, verifyFrom))
		}

		report, err := schemamigrator.NewVerifier(a.target, a.logger).Verify(cmd.Context(), src)
		if err != nil {
			return err
		}

		if err := report.Print(cmd.OutOrStdout(), output); err != nil {
			return err
		}

		if !report.InSync() && a.conf.Migration.FailOnError {
			return errors.New(`target registry is not in sync with the source`)
		}

		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFrom, `from`, `dirs`, `Source to verify: dirs, registry or storage`)
	rootCmd.AddCommand(verifyCmd)
}
