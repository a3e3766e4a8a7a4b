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
	"testing/fstest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	orderCreatedSchema   = `{"type":"record","name":"OrderCreated","namespace":"com.example","fields":[{"name":"id","type":"string"}]}`
	orderCancelledSchema = `{"type":"record","name":"OrderCancelled","namespace":"com.example","fields":[{"name":"id","type":"string"}]}`
	paymentSchema        = `{"type":"record","name":"PaymentReceived","namespace":"com.example","fields":[{"name":"amount","type":"double"}]}`
)

func schemaFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}

	return fs
}

func TestDirectorySource_Candidates(t *testing.T) {
	fs := schemaFs(t, map[string]string{
		`/schemas/orders/order_created.avsc`:   orderCreatedSchema,
		`/schemas/orders/order_cancelled.avsc`: orderCancelledSchema,
		`/schemas/orders/README.md`:            `not a schema`,
		`/schemas/payments/payment.avsc`:       paymentSchema,
	})

	src := NewDirectorySource([]TopicMapping{
		{Name: `orders`, Directory: `/schemas/orders`},
		{Name: `payments`, Directory: `/schemas/payments`, Kind: `key`},
	}, ParseSubjectStrategy(StrategyTopicRecordName), WithFs(fs), WithWorkers(2))

	candidates, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	// mapping order, then file name order
	assert.Equal(t, `order_cancelled.avsc`, candidates[0].Origin)
	assert.Equal(t, `orders-com.example.OrderCancelled`, candidates[0].Subject)
	assert.Equal(t, `order_created.avsc`, candidates[1].Origin)
	assert.Equal(t, `orders-com.example.OrderCreated`, candidates[1].Subject)
	assert.Equal(t, `payment.avsc`, candidates[2].Origin)
	assert.Equal(t, `payments`, candidates[2].Topic)

	for _, c := range candidates {
		require.NoError(t, c.Err)
		assert.Equal(t, SchemaTypeAvro, c.Schema.Type)
	}
	assert.Equal(t, orderCreatedSchema, candidates[1].Schema.Schema)
}

func TestDirectorySource_TopicNameStrategy(t *testing.T) {
	fs := schemaFs(t, map[string]string{`/payments/payment.avsc`: paymentSchema})

	src := NewDirectorySource([]TopicMapping{{Name: `payments`, Directory: `/payments`, Kind: `key`}},
		ParseSubjectStrategy(StrategyTopicName), WithFs(fs))

	candidates, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, `payments-key`, candidates[0].Subject)
}

func TestDirectorySource_TrimsMappings(t *testing.T) {
	fs := schemaFs(t, map[string]string{`/schemas/orders/order_created.avsc`: orderCreatedSchema})

	src := NewDirectorySource([]TopicMapping{{Name: ` orders `, Directory: `/schemas/orders `, Kind: ` key`}},
		ParseSubjectStrategy(StrategyTopicRecordName), WithFs(fs))

	candidates, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.NoError(t, candidates[0].Err)
	assert.Equal(t, `orders`, candidates[0].Topic)
	assert.Equal(t, `orders-com.example.OrderCreated`, candidates[0].Subject)
}

func TestDirectorySource_SkipsInvalidMappings(t *testing.T) {
	fs := schemaFs(t, map[string]string{
		`/schemas/orders/order_created.avsc`: orderCreatedSchema,
		`/schemas/empty/notes.txt`:           `nothing here`,
	})

	src := NewDirectorySource([]TopicMapping{
		{Name: ``, Directory: `/schemas/orders`},
		{Name: `missing`, Directory: `/schemas/missing`},
		{Name: `empty`, Directory: `/schemas/empty`},
		{Name: `orders`, Directory: ` `},
		{Name: `embedded`, Directory: `embed:schemas`},
		{Name: `orders`, Directory: `/schemas/orders`},
	}, nil, WithFs(fs))

	candidates, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, `orders`, candidates[0].Topic)
}

func TestDirectorySource_ParseFailure(t *testing.T) {
	fs := schemaFs(t, map[string]string{
		`/schemas/a_broken.avsc`: `{"type":"record"`,
		`/schemas/b_valid.avsc`:  orderCreatedSchema,
	})

	src := NewDirectorySource([]TopicMapping{{Name: `orders`, Directory: `/schemas`}}, nil, WithFs(fs))

	candidates, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Error(t, candidates[0].Err)
	assert.Equal(t, `a_broken.avsc`, candidates[0].Origin)
	assert.Nil(t, candidates[0].Schema)
	assert.NoError(t, candidates[1].Err)
}

func TestDirectorySource_NoTopics(t *testing.T) {
	_, err := NewDirectorySource(nil, nil).Candidates(context.Background())
	assert.Equal(t, ErrNoTopics, err)
}

func TestDirectorySource_Embedded(t *testing.T) {
	embedded := fstest.MapFS{
		`schemas/orders/order_created.avsc`:   {Data: []byte(orderCreatedSchema)},
		`schemas/orders/order_cancelled.avsc`: {Data: []byte(orderCancelledSchema)},
	}

	src := NewDirectorySource([]TopicMapping{{Name: `orders`, Directory: `embed:/schemas/orders`}},
		ParseSubjectStrategy(StrategyRecordName), WithEmbedded(embedded), WithFs(afero.NewMemMapFs()))

	candidates, err := src.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, `com.example.OrderCancelled`, candidates[0].Subject)
	assert.Equal(t, `com.example.OrderCreated`, candidates[1].Subject)
}

func TestDirectorySource_Cancelled(t *testing.T) {
	fs := schemaFs(t, map[string]string{`/schemas/order_created.avsc`: orderCreatedSchema})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDirectorySource([]TopicMapping{{Name: `orders`, Directory: `/schemas`}}, nil, WithFs(fs)).Candidates(ctx)
	assert.Equal(t, context.Canceled, err)
}
