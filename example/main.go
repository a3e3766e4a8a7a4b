/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"context"
	"embed"
	"os"

	"github.com/tryfix/log"
	"github.com/tryfix/schemamigrator"
)

//go:embed schemas
var schemas embed.FS

func main() {
	logger := log.NewLog().Log(log.WithLevel(log.INFO))

	// init a new schema registry instance
	registry, err := schemamigrator.NewRegistry(schemamigrator.RegistryConfig{
		URL:   `http://localhost:8081`,
		Group: `orders`,
	}, schemamigrator.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}

	source := schemamigrator.NewDirectorySource(
		[]schemamigrator.TopicMapping{
			{Name: `orders`, Directory: `embed:schemas`},
		},
		schemamigrator.ParseSubjectStrategy(schemamigrator.StrategyTopicRecordName),
		schemamigrator.WithEmbedded(schemas),
		schemamigrator.WithSourceLogger(logger),
	)

	migrator := schemamigrator.NewMigrator(registry, schemamigrator.MigrationConfig{CopyCompatibility: true}, logger)

	report, err := migrator.Run(context.Background(), source)
	if err != nil {
		log.Fatal(err)
	}

	if err := report.Print(os.Stdout, schemamigrator.FormatTable); err != nil {
		log.Fatal(err)
	}

	log.Info(`your schemas are successfully migrated`)
}
