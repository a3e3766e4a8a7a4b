/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"fmt"
	"strings"

	"github.com/hamba/avro/v2"
)

const (
	StrategyTopicName       = `TopicNameStrategy`
	StrategyRecordName      = `RecordNameStrategy`
	StrategyTopicRecordName = `TopicRecordNameStrategy`
)

// SubjectKind selects the key or value subject of a topic
type SubjectKind string

const (
	SubjectKindValue SubjectKind = `value`
	SubjectKindKey   SubjectKind = `key`
)

func (k SubjectKind) normalize() SubjectKind {
	if strings.EqualFold(string(k), string(SubjectKindKey)) {
		return SubjectKindKey
	}

	return SubjectKindValue
}

// SubjectStrategy derives the registry subject of a schema written to a topic
type SubjectStrategy interface {
	Name() string
	Subject(topic string, kind SubjectKind, schema avro.Schema) string
}

type topicNameStrategy struct{}

func (topicNameStrategy) Name() string { return StrategyTopicName }

func (topicNameStrategy) Subject(topic string, kind SubjectKind, _ avro.Schema) string {
	return fmt.Sprintf(`%s-%s`, topic, kind.normalize())
}

type recordNameStrategy struct{}

func (recordNameStrategy) Name() string { return StrategyRecordName }

func (recordNameStrategy) Subject(_ string, _ SubjectKind, schema avro.Schema) string {
	return fullName(schema)
}

type topicRecordNameStrategy struct{}

func (topicRecordNameStrategy) Name() string { return StrategyTopicRecordName }

func (topicRecordNameStrategy) Subject(topic string, _ SubjectKind, schema avro.Schema) string {
	return fmt.Sprintf(`%s-%s`, topic, fullName(schema))
}

// ParseSubjectStrategy returns the strategy for the given name. Unknown and empty names fall back to
// TopicRecordNameStrategy.
func ParseSubjectStrategy(name string) SubjectStrategy {
	switch strings.TrimSpace(name) {
	case StrategyTopicName:
		return topicNameStrategy{}
	case StrategyRecordName:
		return recordNameStrategy{}
	default:
		return topicRecordNameStrategy{}
	}
}

// fullName returns the namespace qualified name of a named schema and the type name otherwise
// (primitives, arrays, maps and unions)
func fullName(schema avro.Schema) string {
	if named, ok := schema.(avro.NamedSchema); ok {
		return named.FullName()
	}

	return string(schema.Type())
}
