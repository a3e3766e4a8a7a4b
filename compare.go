/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hamba/avro/v2"
	"github.com/linkedin/goavro/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"gopkg.in/yaml.v3"
)

// Equivalent reports whether two schemas describe the same thing. Avro schemas are compared by their
// Parsing Canonical Form, other types by their whitespace normalized text. References have to match.
func Equivalent(a, b *Schema) bool {
	if a.Type.normalize() != b.Type.normalize() {
		return false
	}

	if len(a.References) != len(b.References) {
		return false
	}
	for i := range a.References {
		if a.References[i] != b.References[i] {
			return false
		}
	}

	return canonical(a) == canonical(b)
}

func canonical(s *Schema) string {
	switch s.Type.normalize() {
	case SchemaTypeAvro:
		if codec, err := goavro.NewCodec(s.Schema); err == nil {
			return codec.CanonicalSchema()
		}
	case SchemaTypeJSON:
		b := new(bytes.Buffer)
		if err := json.Compact(b, []byte(s.Schema)); err == nil {
			return b.String()
		}
	}

	return strings.Join(strings.Fields(s.Schema), ` `)
}

type VerifyStatus string

const (
	StatusPresent VerifyStatus = `present`
	StatusMissing VerifyStatus = `missing`
	StatusFailed  VerifyStatus = `failed`
)

type Verification struct {
	Origin        string       `json:"origin" yaml:"origin"`
	Subject       string       `json:"subject" yaml:"subject"`
	Status        VerifyStatus `json:"status" yaml:"status"`
	TargetVersion int          `json:"targetVersion,omitempty" yaml:"targetVersion,omitempty"`
	// Preflight is the result of the compatibility check of a missing Avro schema against the latest target version
	Preflight string `json:"preflight,omitempty" yaml:"preflight,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CompatibilityDrift is a subject whose compatibility level differs between the source and the target
type CompatibilityDrift struct {
	Subject string        `json:"subject" yaml:"subject"`
	Source  Compatibility `json:"source" yaml:"source"`
	Target  Compatibility `json:"target" yaml:"target"`
}

type VerifyReport struct {
	RunID    string               `json:"runId" yaml:"runId"`
	Source   string               `json:"source" yaml:"source"`
	Started  time.Time            `json:"started" yaml:"started"`
	Finished time.Time            `json:"finished" yaml:"finished"`
	Entries  []Verification       `json:"entries" yaml:"entries"`
	Drift    []CompatibilityDrift `json:"drift,omitempty" yaml:"drift,omitempty"`
	Summary  map[VerifyStatus]int `json:"summary" yaml:"summary"`
}

// InSync reports whether every candidate is present on the target and no compatibility level drifted
func (r *VerifyReport) InSync() bool {
	return r.Summary[StatusMissing] == 0 && r.Summary[StatusFailed] == 0 && len(r.Drift) == 0
}

func (r *VerifyReport) Print(w io.Writer, format string) error {
	switch format {
	case FormatTable, ``:
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{`origin`, `subject`, `status`, `target version`, `preflight`, `error`})
		table.SetAutoFormatHeaders(true)
		for _, e := range r.Entries {
			table.Append([]string{e.Origin, e.Subject, string(e.Status), optionalInt(e.TargetVersion), e.Preflight, e.Error})
		}
		table.Render()

		if len(r.Drift) > 0 {
			drift := tablewriter.NewWriter(w)
			drift.SetHeader([]string{`subject`, `source`, `target`})
			for _, d := range r.Drift {
				drift.Append([]string{d.Subject, string(d.Source), string(d.Target)})
			}
			drift.Render()
		}

		_, err := fmt.Fprintf(w, "verify %s against %s: present %d, missing %d, failed %d, drifted %d\n",
			r.RunID, r.Source, r.Summary[StatusPresent], r.Summary[StatusMissing], r.Summary[StatusFailed], len(r.Drift))
		return err

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return errors.WithPrevious(err, `cannot encode verify report`)
		}
		return enc.Close()

	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent(``, `  `)
		if err := enc.Encode(r); err != nil {
			return errors.WithPrevious(err, `cannot encode verify report`)
		}
		return nil
	}

	return errors.New(fmt.Sprintf(`unknown output format %s`, format))
}

// Verifier compares the candidates of a source with a target registry without writing to it
type Verifier struct {
	target Client
	logger log.Logger
}

func NewVerifier(target Client, logger log.Logger) *Verifier {
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	return &Verifier{
		target: target,
		logger: logger.NewLog(log.Prefixed(`Verifier`)),
	}
}

func (v *Verifier) Verify(ctx context.Context, src Source) (*VerifyReport, error) {
	report := &VerifyReport{
		RunID:   uuid.NewString(),
		Source:  src.Name(),
		Started: time.Now(),
	}

	candidates, err := src.Candidates(ctx)
	if err != nil {
		if err == ErrNoTopics {
			return nil, err
		}
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot load schemas from %s`, src.Name()))
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry := v.verify(cand)
		report.Entries = append(report.Entries, entry)

		if cand.Err == nil && cand.Compatibility != `` {
			target, err := v.target.Compatibility(cand.Subject)
			if err != nil {
				v.logger.Warn(fmt.Sprintf(`Cannot read compatibility of subject=%s: %s`, cand.Subject, err))
			} else if target != cand.Compatibility {
				report.Drift = append(report.Drift, CompatibilityDrift{
					Subject: cand.Subject,
					Source:  cand.Compatibility,
					Target:  target,
				})
			}
		}
	}

	report.Finished = time.Now()
	report.Summary = make(map[VerifyStatus]int)
	for _, e := range report.Entries {
		report.Summary[e.Status]++
	}

	v.logger.Info(fmt.Sprintf(`Verified %d schema/s from %s: present %d, missing %d, failed %d`,
		len(report.Entries), src.Name(), report.Summary[StatusPresent], report.Summary[StatusMissing], report.Summary[StatusFailed]))

	return report, nil
}

func (v *Verifier) verify(cand Candidate) Verification {
	entry := Verification{
		Origin:  cand.Origin,
		Subject: cand.Subject,
	}

	if cand.Err != nil {
		entry.Status = StatusFailed
		entry.Error = cand.Err.Error()
		return entry
	}

	found, err := v.target.Lookup(cand.Subject, cand.Schema)
	if err == nil {
		entry.Status = StatusPresent
		entry.TargetVersion = found.Version
		return entry
	}

	if err != ErrNotFound {
		entry.Status = StatusFailed
		entry.Error = err.Error()
		return entry
	}

	versions, err := v.target.Versions(cand.Subject)
	if err != nil {
		// unknown subject
		versions = nil
	}
	sort.Ints(versions)

	var latest *Schema
	for _, version := range versions {
		sch, err := v.target.SchemaByVersion(cand.Subject, version)
		if err != nil {
			entry.Status = StatusFailed
			entry.Error = err.Error()
			return entry
		}

		if Equivalent(cand.Schema, sch) {
			entry.Status = StatusPresent
			entry.TargetVersion = version
			return entry
		}
		latest = sch
	}

	entry.Status = StatusMissing
	if cand.Schema.Type.normalize() == SchemaTypeAvro {
		entry.Preflight = preflight(cand.Schema, latest)
	}

	v.logger.Debug(fmt.Sprintf(`[%s] Schema missing for subject=%s (%s)`, cand.label(), cand.Subject, entry.Preflight))

	return entry
}

// preflight checks a candidate (reader) can read data written with the latest target schema (writer)
func preflight(candidate, latest *Schema) string {
	if latest == nil {
		return `new subject`
	}

	if latest.Type.normalize() != SchemaTypeAvro {
		return fmt.Sprintf(`incompatible: target is %s`, latest.Type.normalize())
	}

	reader, err := avro.ParseWithCache(candidate.Schema, ``, &avro.SchemaCache{})
	if err != nil {
		return fmt.Sprintf(`unchecked: %s`, err)
	}

	writer, err := avro.ParseWithCache(latest.Schema, ``, &avro.SchemaCache{})
	if err != nil {
		return fmt.Sprintf(`unchecked: %s`, err)
	}

	if err := avro.NewSchemaCompatibility().Compatible(reader, writer); err != nil {
		return fmt.Sprintf(`incompatible: %s`, err)
	}

	return `compatible`
}
