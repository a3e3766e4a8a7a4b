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
	"sort"
	"strings"

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrUnknownSchemaID = errors.New(`schema id is not in the id map`)

type recordConsumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// PayloadValidator checks a framed payload against the schema of its id
type PayloadValidator interface {
	Validate(data []byte) error
}

// Relay copies records between clusters replacing source schema ids with their target ids
type Relay struct {
	consumer  recordConsumer
	producer  recordProducer
	ids       *IDMap
	topics    map[string]string
	headers   []kgo.RecordHeader
	validator PayloadValidator
	relayed   int
	logger    log.Logger
}

// NewRelay connects to the source and target clusters of conf. validator may be nil.
func NewRelay(conf RelayConfig, ids *IDMap, validator PayloadValidator, logger log.Logger) (*Relay, error) {
	if strings.TrimSpace(conf.Brokers) == `` {
		return nil, errors.New(`relay.brokers is required`)
	}

	topics := relayTopics(conf.Topics)
	if len(topics) == 0 {
		return nil, errors.New(`relay.topics is required`)
	}

	sources := make([]string, 0, len(topics))
	for source := range topics {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(conf.Brokers, `,`)...),
		kgo.ConsumerGroup(conf.Group),
		kgo.ConsumeTopics(sources...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot create relay consumer`)
	}

	targetBrokers := conf.TargetBrokers
	if strings.TrimSpace(targetBrokers) == `` {
		targetBrokers = conf.Brokers
	}

	producer, err := kgo.NewClient(kgo.SeedBrokers(strings.Split(targetBrokers, `,`)...))
	if err != nil {
		consumer.Close()
		return nil, errors.WithPrevious(err, `cannot create relay producer`)
	}

	return newRelay(consumer, producer, ids, topics, conf.Headers, validator, logger), nil
}

func newRelay(consumer recordConsumer, producer recordProducer, ids *IDMap, topics map[string]string,
	headers map[string]string, validator PayloadValidator, logger log.Logger) *Relay {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	r := &Relay{
		consumer:  consumer,
		producer:  producer,
		ids:       ids,
		topics:    topics,
		validator: validator,
		logger:    logger.NewLog(log.Prefixed(`Relay`)),
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.headers = append(r.headers, kgo.RecordHeader{Key: k, Value: []byte(headers[k])})
	}

	return r
}

func relayTopics(topics []RelayTopic) map[string]string {
	m := make(map[string]string)
	for _, t := range topics {
		if strings.TrimSpace(t.Source) == `` {
			continue
		}
		target := t.Target
		if target == `` {
			target = t.Source
		}
		m[t.Source] = target
	}

	return m
}

// Run relays records until ctx is done. A batch containing a record which cannot be relayed stops the Relay
// without committing the batch.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info(fmt.Sprintf(`Relay started for %d topic/s with %d schema id mapping/s`, len(r.topics), r.ids.Len()))

	for {
		fetches := r.consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			r.logger.Info(fmt.Sprintf(`Relay stopped after %d record/s`, r.relayed))
			return nil
		}

		if err := r.process(ctx, fetches); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (r *Relay) process(ctx context.Context, fetches kgo.Fetches) error {
	fetches.EachError(func(topic string, partition int32, err error) {
		r.logger.Error(fmt.Sprintf(`fetch error on %s[%d]: %s`, topic, partition, err))
	})

	var in, out []*kgo.Record
	var err error
	fetches.EachRecord(func(rec *kgo.Record) {
		if err != nil {
			return
		}

		var translated *kgo.Record
		translated, err = r.translate(rec)
		if err != nil {
			return
		}

		in = append(in, rec)
		out = append(out, translated)
	})

	if err != nil {
		return err
	}

	if len(out) == 0 {
		return nil
	}

	if err := r.producer.ProduceSync(ctx, out...).FirstErr(); err != nil {
		return errors.WithPrevious(err, `cannot produce relayed records`)
	}

	if err := r.consumer.CommitRecords(ctx, in...); err != nil {
		return errors.WithPrevious(err, `cannot commit relayed records`)
	}

	r.relayed += len(out)
	r.logger.Debug(fmt.Sprintf(`%d record/s relayed, %d in total`, len(out), r.relayed))

	return nil
}

func (r *Relay) translate(rec *kgo.Record) (*kgo.Record, error) {
	target, ok := r.topics[rec.Topic]
	if !ok {
		target = rec.Topic
	}

	key, err := r.reframe(rec, rec.Key, `key`)
	if err != nil {
		return nil, err
	}

	value, err := r.reframe(rec, rec.Value, `value`)
	if err != nil {
		return nil, err
	}

	headers := make([]kgo.RecordHeader, 0, len(rec.Headers)+len(r.headers))
	headers = append(headers, rec.Headers...)
	headers = append(headers, r.headers...)

	return &kgo.Record{
		Topic:     target,
		Key:       key,
		Value:     value,
		Headers:   headers,
		Timestamp: rec.Timestamp,
	}, nil
}

// reframe replaces the schema id of a framed payload, payloads which are not framed are returned as is
func (r *Relay) reframe(rec *kgo.Record, data []byte, part string) ([]byte, error) {
	if !IsFramed(data) {
		return data, nil
	}

	source := decodePrefix(data)
	id, ok := r.ids.Get(source)
	if !ok {
		r.logger.Error(fmt.Sprintf(`%s of %s[%d]@%d has unknown schema id %d`, part, rec.Topic, rec.Partition, rec.Offset, source))
		return nil, ErrUnknownSchemaID
	}

	if r.validator != nil {
		if err := r.validator.Validate(data); err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`invalid %s at %s[%d]@%d`, part, rec.Topic, rec.Partition, rec.Offset))
		}
	}

	return Reframe(data, id)
}

// Close closes the Kafka clients
func (r *Relay) Close() {
	r.consumer.Close()
	r.producer.Close()
}
