/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	keyTypeSchema        = `SCHEMA`
	keyTypeConfig        = `CONFIG`
	keyTypeDeleteSubject = `DELETE_SUBJECT`
	keyTypeClearSubject  = `CLEAR_SUBJECT`
)

type key struct {
	Subject string `json:"subject"`
	Keytype string `json:"keytype"`
	Version int    `json:"version"`
}

type value struct {
	Subject    string      `json:"subject"`
	Version    int         `json:"version"`
	Id         int         `json:"id"`
	Schema     string      `json:"schema"`
	SchemaType SchemaType  `json:"schemaType"`
	References []Reference `json:"references"`
	Deleted    bool        `json:"deleted"`
}

type configValue struct {
	CompatibilityLevel Compatibility `json:"compatibilityLevel"`
}

// recordPoller is the part of kgo.Client used to replay the storage topic
type recordPoller interface {
	PollFetches(ctx context.Context) kgo.Fetches
	Close()
}

type storedSubject struct {
	versions      map[int]*Schema
	compatibility Compatibility
}

// StorageTopicSource rebuilds the live subjects of a registry by replaying its Kafka storage topic
type StorageTopicSource struct {
	topic       string
	idleTimeout time.Duration
	filter      *regexp.Regexp
	newPoller   func() (recordPoller, error)
	subjects    map[string]*storedSubject
	logger      log.Logger
}

// NewStorageTopicSource returns a source reading partition 0 of the storage topic from the brokers in conf
func NewStorageTopicSource(conf StorageConfig, filter string, logger log.Logger) (*StorageTopicSource, error) {
	if strings.TrimSpace(conf.Brokers) == `` {
		return nil, errors.New(`schema.source.storage.brokers is required`)
	}

	brokers := strings.Split(conf.Brokers, `,`)
	topic := conf.Topic
	if topic == `` {
		topic = `_schemas`
	}

	return newStorageTopicSource(topic, conf.IdleTimeout, filter, logger, func() (recordPoller, error) {
		return kgo.NewClient(
			kgo.SeedBrokers(brokers...),
			kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
				topic: {0: kgo.NewOffset().AtStart()},
			}),
			kgo.FetchMaxWait(time.Second),
		)
	})
}

func newStorageTopicSource(topic string, idleTimeout time.Duration, filter string, logger log.Logger, newPoller func() (recordPoller, error)) (*StorageTopicSource, error) {
	s := &StorageTopicSource{
		topic:       topic,
		idleTimeout: idleTimeout,
		newPoller:   newPoller,
		logger:      logger,
	}

	if filter != `` {
		re, err := regexp.Compile(filter)
		if err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`invalid subject filter %s`, filter))
		}
		s.filter = re
	}

	if s.idleTimeout <= 0 {
		s.idleTimeout = 10 * time.Second
	}

	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	s.logger = s.logger.NewLog(log.Prefixed(`StorageSource`))

	return s, nil
}

func (s *StorageTopicSource) Name() string {
	return `storage:` + s.topic
}

// Candidates replays the storage topic up to its high watermark, or until no records arrive for the idle timeout
func (s *StorageTopicSource) Candidates(ctx context.Context) ([]Candidate, error) {
	poller, err := s.newPoller()
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot create storage topic consumer`)
	}
	defer poller.Close()

	s.subjects = make(map[string]*storedSubject)
	s.logger.Info(fmt.Sprintf(`Replaying %s...`, s.topic))

	if err := s.replay(ctx, poller); err != nil {
		return nil, err
	}

	s.logger.Info(fmt.Sprintf(`Replay of %s done, %d subject/s found`, s.topic, len(s.subjects)))

	return orderCandidates(s.states()), nil
}

func (s *StorageTopicSource) replay(ctx context.Context, poller recordPoller) error {
	for {
		pollCtx, cancel := context.WithTimeout(ctx, s.idleTimeout)
		fetches := poller.PollFetches(pollCtx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if fetches.IsClientClosed() {
			return nil
		}

		idle := false
		for _, fetchErr := range fetches.Errors() {
			if fetchErr.Err == context.DeadlineExceeded || fetchErr.Err == context.Canceled {
				idle = true
				continue
			}
			return errors.WithPrevious(fetchErr.Err, fmt.Sprintf(`cannot consume %s[%d]`, fetchErr.Topic, fetchErr.Partition))
		}

		if idle {
			s.logger.Debug(fmt.Sprintf(`No records within %s, assuming the end of %s`, s.idleTimeout, s.topic))
			return nil
		}

		done := false
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				s.apply(record.Key, record.Value)
				if record.Offset+1 >= p.HighWatermark {
					done = true
				}
			}
			if len(p.Records) == 0 && p.HighWatermark == 0 {
				done = true
			}
		})

		if done {
			return nil
		}
	}
}

func (s *StorageTopicSource) apply(keyByt []byte, valByt []byte) {
	key := key{}

	// empty keys have to be ignored
	if len(keyByt) < 1 {
		return
	}

	if err := json.Unmarshal(keyByt, &key); err != nil {
		s.logger.Error(fmt.Sprintf(`cannot unmarshal key due to %+v`, err))
		return
	}

	switch key.Keytype {
	case keyTypeSchema:
		s.applySchema(key, valByt)
	case keyTypeConfig:
		s.applyConfig(key, valByt)
	case keyTypeDeleteSubject, keyTypeClearSubject:
		s.applyDeleteSubject(key, valByt)
	}
}

func (s *StorageTopicSource) applySchema(key key, valByt []byte) {
	if key.Subject == `` || !s.selected(key.Subject) {
		return
	}

	// tombstone
	if len(valByt) < 1 {
		s.removeVersion(key.Subject, key.Version)
		return
	}

	value := value{}
	if err := json.Unmarshal(valByt, &value); err != nil {
		s.logger.Error(fmt.Sprintf(`cannot unmarshal value of [%s][%d] due to %+v`, key.Subject, key.Version, err))
		return
	}

	if value.Deleted {
		s.removeVersion(key.Subject, key.Version)
		return
	}

	s.subject(key.Subject).versions[value.Version] = &Schema{
		Id:         value.Id,
		Subject:    key.Subject,
		Version:    value.Version,
		Type:       value.SchemaType.normalize(),
		Schema:     value.Schema,
		References: value.References,
	}
}

func (s *StorageTopicSource) applyConfig(key key, valByt []byte) {
	// global config is not carried over
	if key.Subject == `` || !s.selected(key.Subject) {
		return
	}

	if len(valByt) < 1 {
		if sub, ok := s.subjects[key.Subject]; ok {
			sub.compatibility = ``
		}
		return
	}

	conf := configValue{}
	if err := json.Unmarshal(valByt, &conf); err != nil {
		s.logger.Error(fmt.Sprintf(`cannot unmarshal config of [%s] due to %+v`, key.Subject, err))
		return
	}

	s.subject(key.Subject).compatibility = conf.CompatibilityLevel
}

func (s *StorageTopicSource) applyDeleteSubject(key key, valByt []byte) {
	sub, ok := s.subjects[key.Subject]
	if !ok || len(valByt) < 1 {
		return
	}

	value := value{}
	if err := json.Unmarshal(valByt, &value); err != nil {
		s.logger.Error(fmt.Sprintf(`cannot unmarshal delete of [%s] due to %+v`, key.Subject, err))
		return
	}

	for v := range sub.versions {
		if v <= value.Version {
			delete(sub.versions, v)
		}
	}
}

func (s *StorageTopicSource) subject(name string) *storedSubject {
	sub, ok := s.subjects[name]
	if !ok {
		sub = &storedSubject{versions: make(map[int]*Schema)}
		s.subjects[name] = sub
	}

	return sub
}

func (s *StorageTopicSource) removeVersion(subject string, version int) {
	if sub, ok := s.subjects[subject]; ok {
		delete(sub.versions, version)
	}
}

func (s *StorageTopicSource) selected(subject string) bool {
	return s.filter == nil || s.filter.MatchString(subject)
}

func (s *StorageTopicSource) states() []*subjectState {
	names := make([]string, 0, len(s.subjects))
	for name, sub := range s.subjects {
		if len(sub.versions) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	states := make([]*subjectState, 0, len(names))
	for _, name := range names {
		sub := s.subjects[name]
		state := &subjectState{subject: name, compatibility: sub.compatibility}
		for _, sch := range sub.versions {
			state.schemas = append(state.schemas, sch)
		}
		sort.Slice(state.schemas, func(i, j int) bool {
			return state.schemas[i].Version < state.schemas[j].Version
		})
		states = append(states, state)
	}

	return states
}
