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
	"time"

	"github.com/google/uuid"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

var (
	ErrNoTopics        = errors.New(`no topics configured`)
	ErrMigrationFailed = errors.New(`one or more schemas failed to migrate`)
)

// Candidate is a single schema to be migrated
type Candidate struct {
	// Origin is a file name or subject:version at the source
	Origin  string
	Topic   string
	Subject string
	Schema  *Schema
	// Compatibility is the source subject level, set on the last candidate of a subject only
	Compatibility Compatibility
	// Err marks a candidate which could not be loaded
	Err error
}

func (c Candidate) label() string {
	if c.Topic != `` {
		return c.Topic
	}

	return c.Subject
}

// Source loads the ordered list of candidates to be migrated
type Source interface {
	Name() string
	Candidates(ctx context.Context) ([]Candidate, error)
}

type versionKey struct {
	subject string
	version int
}

// Migrator registers candidates from a Source on a target registry
type Migrator struct {
	target Client
	conf   MigrationConfig
	idMap  *IDMap
	logger log.Logger
}

// NewMigrator returns a Migrator writing to target. A nil logger disables logging.
func NewMigrator(target Client, conf MigrationConfig, logger log.Logger) *Migrator {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	return &Migrator{
		target: target,
		conf:   conf,
		idMap:  NewIDMap(),
		logger: logger.NewLog(log.Prefixed(`Migrator`)),
	}
}

// IDMap returns the source to target id map collected over every run of the Migrator
func (m *Migrator) IDMap() *IDMap {
	return m.idMap
}

// Run migrates every candidate of the source in order. Per candidate failures are reported, not returned,
// unless fail-on-error is enabled.
func (m *Migrator) Run(ctx context.Context, src Source) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Source:  src.Name(),
		DryRun:  m.conf.DryRun,
		Started: time.Now(),
	}

	candidates, err := src.Candidates(ctx)
	if err != nil {
		if err == ErrNoTopics {
			m.logger.Error(`No topics configured for schema migration`)
			return nil, err
		}
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot load schemas from %s`, src.Name()))
	}

	m.logger.Info(fmt.Sprintf(`Migrating %d schema/s from %s (run %s, dry-run: %t)`,
		len(candidates), src.Name(), report.RunID, m.conf.DryRun))

	migrated := make(map[versionKey]versionKey)

	for i, cand := range candidates {
		if ctx.Err() != nil {
			for _, rest := range candidates[i:] {
				report.add(Entry{
					Origin:  rest.Origin,
					Topic:   rest.Topic,
					Subject: rest.Subject,
					Outcome: OutcomeSkipped,
				})
			}
			report.finish()
			return report, ctx.Err()
		}

		entry := m.migrate(cand, migrated)
		report.add(entry)

		if entry.Outcome != OutcomeFailed && cand.Compatibility != `` && m.conf.CopyCompatibility {
			if change, ok := m.copyCompatibility(cand); ok {
				report.CompatibilityChanges = append(report.CompatibilityChanges, change)
			}
		}
	}

	report.finish()

	m.logger.Info(fmt.Sprintf(`Migration from %s done. registered: %d, exists: %d, would-register: %d, failed: %d`,
		src.Name(), report.Summary[OutcomeRegistered], report.Summary[OutcomeExists],
		report.Summary[OutcomeWouldRegister], report.Summary[OutcomeFailed]))

	if m.conf.FailOnError && report.Summary[OutcomeFailed] > 0 {
		return report, ErrMigrationFailed
	}

	return report, nil
}

func (m *Migrator) migrate(cand Candidate, migrated map[versionKey]versionKey) Entry {
	entry := Entry{
		Origin:  cand.Origin,
		Topic:   cand.Topic,
		Subject: cand.Subject,
	}

	fail := func(err error) Entry {
		entry.Outcome = OutcomeFailed
		entry.Error = err.Error()
		m.logger.Error(fmt.Sprintf(`[%s] Failed to register schema '%s': %s`, cand.label(), cand.Origin, err))
		return entry
	}

	if cand.Err != nil {
		return fail(cand.Err)
	}

	if cand.Schema == nil {
		return fail(errors.New(`empty schema`))
	}

	entry.SourceID = cand.Schema.Id
	schema := withTargetReferences(cand.Schema, migrated)

	found, err := m.target.Lookup(cand.Subject, schema)
	switch {
	case err == nil:
		entry.Outcome = OutcomeExists
		entry.TargetID = found.Id
		entry.TargetVersion = found.Version
		m.logger.Info(fmt.Sprintf(`[%s] Schema already exists for subject=%s, id=%d`, cand.label(), cand.Subject, found.Id))
	case m.conf.DryRun:
		entry.Outcome = OutcomeWouldRegister
		m.logger.Info(fmt.Sprintf(`[%s] Schema would be registered for subject=%s`, cand.label(), cand.Subject))
		return entry
	default:
		if err != ErrNotFound {
			m.logger.Debug(fmt.Sprintf(`[%s] Lookup failed for subject=%s, registering: %s`, cand.label(), cand.Subject, err))
		}

		id, err := m.target.Register(cand.Subject, schema)
		if err != nil {
			return fail(err)
		}

		entry.Outcome = OutcomeRegistered
		entry.TargetID = id
		m.logger.Info(fmt.Sprintf(`[%s] Schema registered for subject=%s, id=%d`, cand.label(), cand.Subject, id))

		if registered, err := m.target.Lookup(cand.Subject, schema); err == nil {
			entry.TargetVersion = registered.Version
		} else {
			m.logger.Debug(fmt.Sprintf(`[%s] Cannot resolve version of subject=%s, id=%d: %s`, cand.label(), cand.Subject, id, err))
		}
	}

	if cand.Schema.Id > 0 && entry.TargetID > 0 {
		m.idMap.Set(cand.Schema.Id, entry.TargetID)
	}

	if cand.Schema.Subject != `` && cand.Schema.Version > 0 && entry.TargetVersion > 0 {
		migrated[versionKey{cand.Schema.Subject, cand.Schema.Version}] = versionKey{cand.Subject, entry.TargetVersion}
	}

	return entry
}

func (m *Migrator) copyCompatibility(cand Candidate) (CompatibilityChange, bool) {
	current, err := m.target.Compatibility(cand.Subject)
	if err != nil {
		m.logger.Warn(fmt.Sprintf(`[%s] Cannot read compatibility of subject=%s: %s`, cand.label(), cand.Subject, err))
		return CompatibilityChange{}, false
	}

	if current == cand.Compatibility {
		return CompatibilityChange{}, false
	}

	change := CompatibilityChange{
		Subject: cand.Subject,
		From:    current,
		To:      cand.Compatibility,
	}

	if m.conf.DryRun {
		return change, true
	}

	if err := m.target.SetCompatibility(cand.Subject, cand.Compatibility); err != nil {
		change.Error = err.Error()
		m.logger.Error(fmt.Sprintf(`[%s] Failed to set compatibility of subject=%s to %s: %s`,
			cand.label(), cand.Subject, cand.Compatibility, err))
		return change, true
	}

	change.Applied = true
	m.logger.Info(fmt.Sprintf(`[%s] Compatibility of subject=%s set to %s`, cand.label(), cand.Subject, cand.Compatibility))

	return change, true
}

// withTargetReferences returns a copy of the schema whose references point to the subject versions
// registered on the target during this run. Unknown references are kept as is.
func withTargetReferences(s *Schema, migrated map[versionKey]versionKey) *Schema {
	if len(s.References) == 0 {
		return s
	}

	cp := *s
	cp.References = make([]Reference, len(s.References))
	for i, ref := range s.References {
		if target, ok := migrated[versionKey{ref.Subject, ref.Version}]; ok {
			ref.Subject = target.subject
			ref.Version = target.version
		}
		cp.References[i] = ref
	}

	return &cp
}
