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
	"regexp"
	"sort"

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"golang.org/x/sync/errgroup"
)

// RegistrySource reads every version of every (filtered) subject of a source registry
type RegistrySource struct {
	client  Client
	filter  *regexp.Regexp
	workers int
	logger  log.Logger
}

// NewRegistrySource returns a source reading from client. An empty filter selects every subject.
func NewRegistrySource(client Client, filter string, workers int, logger log.Logger) (*RegistrySource, error) {
	s := &RegistrySource{
		client:  client,
		workers: workers,
		logger:  logger,
	}

	if filter != `` {
		re, err := regexp.Compile(filter)
		if err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`invalid subject filter %s`, filter))
		}
		s.filter = re
	}

	if s.workers < 1 {
		s.workers = 1
	}

	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	s.logger = s.logger.NewLog(log.Prefixed(`RegistrySource`))

	return s, nil
}

func (s *RegistrySource) Name() string {
	return `registry`
}

type subjectState struct {
	subject       string
	schemas       []*Schema
	compatibility Compatibility
	err           error
}

func (s *RegistrySource) Candidates(ctx context.Context) ([]Candidate, error) {
	subjects, err := s.client.Subjects()
	if err != nil {
		return nil, err
	}

	var selected []string
	for _, subject := range subjects {
		if s.filter != nil && !s.filter.MatchString(subject) {
			continue
		}
		selected = append(selected, subject)
	}
	sort.Strings(selected)

	s.logger.Info(fmt.Sprintf(`%d of %d subject/s selected`, len(selected), len(subjects)))

	states := make([]*subjectState, len(selected))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, subject := range selected {
		i, subject := i, subject
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			states[i] = s.fetch(subject)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return orderCandidates(states), nil
}

func (s *RegistrySource) fetch(subject string) *subjectState {
	state := &subjectState{subject: subject}

	versions, err := s.client.Versions(subject)
	if err != nil {
		state.err = err
		return state
	}

	for _, version := range versions {
		sch, err := s.client.SchemaByVersion(subject, version)
		if err != nil {
			state.err = err
			return state
		}
		sch.Subject = subject
		sch.Version = version
		state.schemas = append(state.schemas, sch)
	}

	compatibility, err := s.client.Compatibility(subject)
	if err != nil {
		s.logger.Warn(fmt.Sprintf(`Cannot read compatibility of subject %s: %s`, subject, err))
	}
	state.compatibility = compatibility

	s.logger.Debug(fmt.Sprintf(`Subject %s loaded with %d version/s`, subject, len(state.schemas)))

	return state
}

// orderCandidates emits the versions of each subject in ascending order, every referenced subject version
// ahead of its referrers. The subject compatibility goes with the last version of the subject.
func orderCandidates(states []*subjectState) []Candidate {
	nodes := make(map[versionKey]*Schema)
	bySubject := make(map[string][]int)
	var out []Candidate

	for _, state := range states {
		if state.err != nil {
			out = append(out, Candidate{
				Origin:  state.subject,
				Subject: state.subject,
				Err:     state.err,
			})
			continue
		}

		for _, sch := range state.schemas {
			nodes[versionKey{state.subject, sch.Version}] = sch
			bySubject[state.subject] = append(bySubject[state.subject], sch.Version)
		}
		sort.Ints(bySubject[state.subject])
	}

	compatibility := make(map[string]Compatibility)
	for _, state := range states {
		if state.err == nil {
			compatibility[state.subject] = state.compatibility
		}
	}

	previous := func(k versionKey) (versionKey, bool) {
		versions := bySubject[k.subject]
		i := sort.SearchInts(versions, k.version)
		if i == 0 {
			return versionKey{}, false
		}
		return versionKey{k.subject, versions[i-1]}, true
	}

	visited := make(map[versionKey]bool)
	var visit func(k versionKey)
	visit = func(k versionKey) {
		if visited[k] {
			return
		}
		visited[k] = true

		if prev, ok := previous(k); ok {
			visit(prev)
		}

		sch := nodes[k]
		for _, ref := range sch.References {
			if _, ok := nodes[versionKey{ref.Subject, ref.Version}]; ok {
				visit(versionKey{ref.Subject, ref.Version})
			}
		}

		cand := Candidate{
			Origin:  fmt.Sprintf(`%s:%d`, k.subject, k.version),
			Subject: k.subject,
			Schema:  sch,
		}

		versions := bySubject[k.subject]
		if versions[len(versions)-1] == k.version {
			cand.Compatibility = compatibility[k.subject]
		}

		out = append(out, cand)
	}

	for _, state := range states {
		if state.err != nil {
			continue
		}
		for _, version := range bySubject[state.subject] {
			visit(versionKey{state.subject, version})
		}
	}

	return out
}
