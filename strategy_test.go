/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"testing"

	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectStrategies(t *testing.T) {
	record, err := avro.Parse(testSchemas[`avro_v1`])
	require.NoError(t, err)

	enum, err := avro.Parse(`{"type":"enum","name":"Status","symbols":["OPEN","CLOSED"]}`)
	require.NoError(t, err)

	primitive, err := avro.Parse(`"string"`)
	require.NoError(t, err)

	tests := []struct {
		strategy string
		kind     SubjectKind
		schema   avro.Schema
		subject  string
	}{
		{StrategyTopicName, ``, record, `orders-value`},
		{StrategyTopicName, `key`, record, `orders-key`},
		{StrategyTopicName, `KEY`, record, `orders-key`},
		{StrategyRecordName, ``, record, `com.mycorp.mynamespace.SampleRecord`},
		{StrategyRecordName, ``, enum, `Status`},
		{StrategyTopicRecordName, ``, record, `orders-com.mycorp.mynamespace.SampleRecord`},
		{StrategyTopicRecordName, `key`, record, `orders-com.mycorp.mynamespace.SampleRecord`},
		{StrategyTopicRecordName, ``, primitive, `orders-string`},
		{``, ``, record, `orders-com.mycorp.mynamespace.SampleRecord`},
		{`UnknownStrategy`, ``, record, `orders-com.mycorp.mynamespace.SampleRecord`},
	}

	for _, test := range tests {
		t.Run(test.strategy+`/`+test.subject, func(t *testing.T) {
			assert.Equal(t, test.subject, ParseSubjectStrategy(test.strategy).Subject(`orders`, test.kind, test.schema))
		})
	}
}

func TestParseSubjectStrategy_Name(t *testing.T) {
	assert.Equal(t, StrategyTopicName, ParseSubjectStrategy(` TopicNameStrategy `).Name())
	assert.Equal(t, StrategyRecordName, ParseSubjectStrategy(StrategyRecordName).Name())
	assert.Equal(t, StrategyTopicRecordName, ParseSubjectStrategy(`io.confluent.Whatever`).Name())
}
