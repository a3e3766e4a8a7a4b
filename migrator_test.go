/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tryfix/errors"
)

type staticSource struct {
	candidates []Candidate
	err        error
}

func (s staticSource) Name() string { return `static` }

func (s staticSource) Candidates(context.Context) ([]Candidate, error) {
	return s.candidates, s.err
}

func avroCandidate(topic, subject, schema string) Candidate {
	return Candidate{
		Origin:  subject + `.avsc`,
		Topic:   topic,
		Subject: subject,
		Schema:  &Schema{Type: SchemaTypeAvro, Schema: schema},
	}
}

func TestMigrator_Run_RegistersNewSchemas(t *testing.T) {
	target := newMockClient()
	src := staticSource{candidates: []Candidate{
		avroCandidate(`orders`, `orders-com.mycorp.mynamespace.SampleRecord`, testSchemas[`avro_v1`]),
		avroCandidate(`orders`, `orders-com.mycorp.mynamespace.SampleRecord`, testSchemas[`avro_v2`]),
	}}

	report, err := NewMigrator(target, MigrationConfig{}, nil).Run(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, report.Entries, 2)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, `static`, report.Source)
	assert.Equal(t, 2, report.Summary[OutcomeRegistered])
	assert.Equal(t, OutcomeRegistered, report.Entries[0].Outcome)
	assert.Equal(t, 1, report.Entries[0].TargetVersion)
	assert.Equal(t, 2, report.Entries[1].TargetVersion)
	assert.Empty(t, report.Failed())
	assert.False(t, report.Finished.Before(report.Started))
}

func TestMigrator_Run_IsIdempotent(t *testing.T) {
	target := newMockClient()
	src := staticSource{candidates: []Candidate{
		avroCandidate(`orders`, `orders-value`, testSchemas[`avro_v1`]),
	}}
	m := NewMigrator(target, MigrationConfig{}, nil)

	_, err := m.Run(context.Background(), src)
	require.NoError(t, err)

	report, err := m.Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExists, report.Entries[0].Outcome)
	assert.Equal(t, 1, report.Summary[OutcomeExists])
	assert.Equal(t, 1, target.callCount(`Register`))
}

func TestMigrator_Run_DryRun(t *testing.T) {
	target := newMockClient()
	target.add(`orders-value`, SchemaTypeAvro, testSchemas[`avro_v1`])

	src := staticSource{candidates: []Candidate{
		avroCandidate(`orders`, `orders-value`, testSchemas[`avro_v1`]),
		avroCandidate(`orders`, `orders-value`, testSchemas[`avro_v2`]),
	}}

	report, err := NewMigrator(target, MigrationConfig{DryRun: true}, nil).Run(context.Background(), src)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, OutcomeExists, report.Entries[0].Outcome)
	assert.Equal(t, OutcomeWouldRegister, report.Entries[1].Outcome)
	// the only Register call is the one of the fixture
	assert.Equal(t, 1, target.callCount(`Register`))
}

func TestMigrator_Run_ContinuesAfterFailures(t *testing.T) {
	target := newMockClient()
	target.registerErr[`broken-value`] = errors.New(`409 incompatible schema`)

	src := staticSource{candidates: []Candidate{
		{Origin: `bad.avsc`, Topic: `orders`, Err: errors.New(`invalid avro schema`)},
		avroCandidate(`broken`, `broken-value`, testSchemas[`avro_v1`]),
		avroCandidate(`orders`, `orders-value`, testSchemas[`avro_v1`]),
	}}

	report, err := NewMigrator(target, MigrationConfig{}, nil).Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, report.Entries[0].Outcome)
	assert.Contains(t, report.Entries[0].Error, `invalid avro schema`)
	assert.Equal(t, OutcomeFailed, report.Entries[1].Outcome)
	assert.Contains(t, report.Entries[1].Error, `incompatible`)
	assert.Equal(t, OutcomeRegistered, report.Entries[2].Outcome)
	assert.Len(t, report.Failed(), 2)
}

func TestMigrator_Run_FailOnError(t *testing.T) {
	src := staticSource{candidates: []Candidate{
		{Origin: `bad.avsc`, Topic: `orders`, Err: errors.New(`invalid avro schema`)},
		avroCandidate(`orders`, `orders-value`, testSchemas[`avro_v1`]),
	}}

	report, err := NewMigrator(newMockClient(), MigrationConfig{FailOnError: true}, nil).Run(context.Background(), src)
	assert.Equal(t, ErrMigrationFailed, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Summary[OutcomeRegistered])
}

func TestMigrator_Run_NoTopics(t *testing.T) {
	report, err := NewMigrator(newMockClient(), MigrationConfig{}, nil).Run(context.Background(), staticSource{err: ErrNoTopics})
	assert.Equal(t, ErrNoTopics, err)
	assert.Nil(t, report)
}

func TestMigrator_Run_SourceError(t *testing.T) {
	_, err := NewMigrator(newMockClient(), MigrationConfig{}, nil).Run(context.Background(), staticSource{err: errors.New(`boom`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `static`)
}

func TestMigrator_Run_RegistersWhenLookupFails(t *testing.T) {
	target := newMockClient()
	target.lookupErr[`orders-value`] = errors.New(`500 internal server error`)

	src := staticSource{candidates: []Candidate{avroCandidate(`orders`, `orders-value`, testSchemas[`avro_v1`])}}

	report, err := NewMigrator(target, MigrationConfig{}, nil).Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, OutcomeRegistered, report.Entries[0].Outcome)
	assert.NotZero(t, report.Entries[0].TargetID)
}

func TestMigrator_Run_CollectsIDMap(t *testing.T) {
	target := newMockClient()
	cand := avroCandidate(``, `orders-value`, testSchemas[`avro_v1`])
	cand.Schema.Id = 7
	cand.Schema.Subject = `orders-value`
	cand.Schema.Version = 1

	m := NewMigrator(target, MigrationConfig{}, nil)
	report, err := m.Run(context.Background(), staticSource{candidates: []Candidate{cand}})
	require.NoError(t, err)

	id, ok := m.IDMap().Get(7)
	require.True(t, ok)
	assert.Equal(t, report.Entries[0].TargetID, id)
	assert.Equal(t, 7, report.Entries[0].SourceID)
}

func TestMigrator_Run_RewritesReferences(t *testing.T) {
	target := newMockClient()
	// the target already holds a version of the referenced subject
	target.add(`common`, SchemaTypeAvro, `{"type":"record","name":"Common","namespace":"com.example","fields":[]}`)

	common := Candidate{Origin: `common:1`, Subject: `common`, Schema: &Schema{
		Id: 1, Subject: `common`, Version: 1, Type: SchemaTypeAvro,
		Schema: `{"type":"record","name":"Common","namespace":"com.example","fields":[{"name":"id","type":"string"}]}`,
	}}
	order := Candidate{Origin: `order:1`, Subject: `order`, Schema: &Schema{
		Id: 2, Subject: `order`, Version: 1, Type: SchemaTypeAvro,
		Schema:     `{"type":"record","name":"Order","namespace":"com.example","fields":[{"name":"common","type":"com.example.Common"}]}`,
		References: []Reference{{Name: `com.example.Common`, Subject: `common`, Version: 1}},
	}}

	report, err := NewMigrator(target, MigrationConfig{}, nil).Run(context.Background(), staticSource{candidates: []Candidate{common, order}})
	require.NoError(t, err)
	require.Equal(t, 2, report.Summary[OutcomeRegistered])
	assert.Equal(t, 2, report.Entries[0].TargetVersion)

	registered := target.subjects[`order`][0]
	require.Len(t, registered.References, 1)
	assert.Equal(t, Reference{Name: `com.example.Common`, Subject: `common`, Version: 2}, registered.References[0])

	// the source candidate is untouched
	assert.Equal(t, 1, order.Schema.References[0].Version)
}

func TestMigrator_Run_CopiesCompatibility(t *testing.T) {
	target := newMockClient()
	cand := avroCandidate(``, `orders-value`, testSchemas[`avro_v1`])
	cand.Compatibility = CompatibilityFullTransitive

	report, err := NewMigrator(target, MigrationConfig{CopyCompatibility: true}, nil).Run(context.Background(), staticSource{candidates: []Candidate{cand}})
	require.NoError(t, err)

	require.Len(t, report.CompatibilityChanges, 1)
	assert.True(t, report.CompatibilityChanges[0].Applied)
	assert.Equal(t, CompatibilityFullTransitive, report.CompatibilityChanges[0].To)
	assert.Equal(t, CompatibilityFullTransitive, target.compatibility[`orders-value`])
}

func TestMigrator_Run_CompatibilityUnchanged(t *testing.T) {
	target := newMockClient()
	target.compatibility[`orders-value`] = CompatibilityBackward
	cand := avroCandidate(``, `orders-value`, testSchemas[`avro_v1`])
	cand.Compatibility = CompatibilityBackward

	report, err := NewMigrator(target, MigrationConfig{CopyCompatibility: true}, nil).Run(context.Background(), staticSource{candidates: []Candidate{cand}})
	require.NoError(t, err)

	assert.Empty(t, report.CompatibilityChanges)
	assert.Equal(t, 0, target.callCount(`SetCompatibility`))
}

func TestMigrator_Run_DryRunDoesNotSetCompatibility(t *testing.T) {
	target := newMockClient()
	cand := avroCandidate(``, `orders-value`, testSchemas[`avro_v1`])
	cand.Compatibility = CompatibilityNone

	report, err := NewMigrator(target, MigrationConfig{CopyCompatibility: true, DryRun: true}, nil).Run(context.Background(), staticSource{candidates: []Candidate{cand}})
	require.NoError(t, err)

	require.Len(t, report.CompatibilityChanges, 1)
	assert.False(t, report.CompatibilityChanges[0].Applied)
	assert.Equal(t, 0, target.callCount(`SetCompatibility`))
}

func TestMigrator_Run_SkipsCompatibilityOfFailedSubject(t *testing.T) {
	target := newMockClient()
	target.registerErr[`orders-value`] = errors.New(`409 incompatible schema`)
	cand := avroCandidate(``, `orders-value`, testSchemas[`avro_v1`])
	cand.Compatibility = CompatibilityNone

	report, err := NewMigrator(target, MigrationConfig{CopyCompatibility: true}, nil).Run(context.Background(), staticSource{candidates: []Candidate{cand}})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, report.Entries[0].Outcome)
	assert.Empty(t, report.CompatibilityChanges)
	assert.Equal(t, 0, target.callCount(`Compatibility`))
	assert.Equal(t, 0, target.callCount(`SetCompatibility`))
}

func TestMigrator_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := staticSource{candidates: []Candidate{
		avroCandidate(`orders`, `orders-value`, testSchemas[`avro_v1`]),
		avroCandidate(`orders`, `orders-value`, testSchemas[`avro_v2`]),
	}}

	report, err := NewMigrator(newMockClient(), MigrationConfig{}, nil).Run(ctx, src)
	assert.Equal(t, context.Canceled, err)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Summary[OutcomeSkipped])
}

func TestWithTargetReferences_KeepsUnknownReferences(t *testing.T) {
	s := &Schema{References: []Reference{{Name: `a`, Subject: `a`, Version: 3}}}

	out := withTargetReferences(s, map[versionKey]versionKey{{`b`, 1}: {`b`, 2}})
	assert.Equal(t, s.References, out.References)
}
