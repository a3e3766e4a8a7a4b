/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tryfix/errors"
	"github.com/tryfix/schemamigrator"
	"gopkg.in/yaml.v3"
)

var (
	decodeRegistry string
	decodeSubject  string
	decodeVersion  int
)

type decoder interface {
	Decode(data []byte) (interface{}, error)
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a framed record payload with the schema of its id",
	Long: `decode reads a wire format payload from the file (or stdin) and prints the decoded message.

With --subject the payload is also checked against the schema of that subject version.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}

		reg := a.target
		switch decodeRegistry {
		case `target`:
		case `source`:
			if err := a.conf.Schema.Source.Registry.Validate(`schema.source.registry`); err != nil {
				return err
			}
			if reg, err = schemamigrator.NewRegistry(a.conf.Schema.Source.Registry, schemamigrator.WithLogger(a.logger)); err != nil {
				return err
			}
		default:
			return errors.New(fmt.Sprintf(`unknown registry %s, expected source or target`, decodeRegistry))
		}

		var data []byte
		if len(args) == 0 || args[0] == `-` {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = afero.ReadFile(fs, args[0])
		}
		if err != nil {
			return errors.WithPrevious(err, `cannot read payload`)
		}

		var dec decoder = reg.GenericEncoder()
		if decodeSubject != `` {
			if err := reg.Load(decodeSubject, decodeVersion, nil); err != nil {
				return err
			}
			reg.Print()

			enc := reg.WithLatestSchema(decodeSubject)
			if decodeVersion != int(schemamigrator.VersionLatest) {
				enc = reg.WithSchema(decodeSubject, decodeVersion)
			}

			if err := enc.Validate(data); err != nil {
				return err
			}
			dec = enc
		}

		v, err := dec.Decode(data)
		if err != nil {
			return err
		}

		return printDecoded(cmd.OutOrStdout(), v)
	},
}

func printDecoded(w io.Writer, v interface{}) error {
	if output == schemamigrator.FormatYAML {
		return yaml.NewEncoder(w).Encode(v)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent(``, `  `)
	return enc.Encode(v)
}

func init() {
	flags := decodeCmd.Flags()
	flags.StringVar(&decodeRegistry, `registry`, `target`, `Registry the schema id is resolved on: source or target`)
	flags.StringVar(&decodeSubject, `subject`, ``, `Check the payload against this subject`)
	flags.IntVar(&decodeVersion, `schema-version`, int(schemamigrator.VersionLatest), `Subject version for --subject, -1 is the latest`)
	rootCmd.AddCommand(decodeCmd)
}
