/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"context"
	"fmt"
	"os"
	"testing/fstest"

	"github.com/tryfix/log"
)

func Example_migrate() {
	// in memory target for examples only
	target, err := NewRegistry(RegistryConfig{URL: `http://localhost:8081/`},
		WithLogger(log.NewLog().Log(log.WithLevel(log.TRACE))),
		WithClient(newMockClient()),
	)
	if err != nil {
		log.Fatal(err)
	}

	schemas := fstest.MapFS{
		`schemas/order_created.avsc`: {Data: []byte(`{"type":"record","name":"OrderCreated","namespace":"com.example","fields":[{"name":"id","type":"string"}]}`)},
	}

	source := NewDirectorySource(
		[]TopicMapping{{Name: `orders`, Directory: `embed:schemas`}},
		ParseSubjectStrategy(StrategyTopicRecordName),
		WithEmbedded(schemas),
	)

	report, err := NewMigrator(target, MigrationConfig{}, nil).Run(context.Background(), source)
	if err != nil {
		log.Fatal(err)
	}

	if err := report.Print(os.Stdout, FormatTable); err != nil {
		log.Fatal(err)
	}
}

func Example_avro() {
	client := newMockClient()
	client.add(`test-subject-avro`, SchemaTypeAvro, testSchemas[`avro_v1`])

	registry, err := NewRegistry(RegistryConfig{URL: `http://localhost:8081/`},
		WithLogger(log.NewLog().Log(log.WithLevel(log.TRACE))),
		// mock client for examples only
		WithClient(client),
	)
	if err != nil {
		log.Fatal(err)
	}

	type SampleRecord struct {
		Field1 int     `avro:"field1"`
		Field2 float64 `avro:"field2"`
		Field3 string  `avro:"field3"`
	}

	subject := `test-subject-avro`
	if err := registry.Load(subject, 1, func(unmarshaler Unmarshaler) (v interface{}, err error) {
		record := SampleRecord{}
		if err := unmarshaler.Unmarshal(&record); err != nil {
			return nil, err
		}

		return record, nil
	}); err != nil {
		log.Fatal(err)
	}

	// Encode the message
	record := SampleRecord{
		Field1: 1,
		Field2: 2.0,
		Field3: "text",
	}

	bytePayload, err := registry.WithSchema(subject, 1).Encode(record)
	if err != nil {
		panic(err)
	}

	// Decode the message
	ev, err := registry.GenericEncoder().Decode(bytePayload) // Returns SampleRecord
	if err != nil {
		panic(err)
	}

	fmt.Printf("%+v", ev)
}
