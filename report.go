/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/errors"
	"gopkg.in/yaml.v3"
)

// Outcome is the result of migrating a single candidate
type Outcome string

const (
	OutcomeExists        Outcome = `exists`
	OutcomeRegistered    Outcome = `registered`
	OutcomeWouldRegister Outcome = `would-register`
	OutcomeFailed        Outcome = `failed`
	OutcomeSkipped       Outcome = `skipped`
)

const (
	FormatTable = `table`
	FormatYAML  = `yaml`
	FormatJSON  = `json`
)

type Entry struct {
	Origin        string  `json:"origin" yaml:"origin"`
	Topic         string  `json:"topic,omitempty" yaml:"topic,omitempty"`
	Subject       string  `json:"subject" yaml:"subject"`
	Outcome       Outcome `json:"outcome" yaml:"outcome"`
	SourceID      int     `json:"sourceId,omitempty" yaml:"sourceId,omitempty"`
	TargetID      int     `json:"targetId,omitempty" yaml:"targetId,omitempty"`
	TargetVersion int     `json:"targetVersion,omitempty" yaml:"targetVersion,omitempty"`
	Error         string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// CompatibilityChange records a subject level compatibility copied to the target
type CompatibilityChange struct {
	Subject string        `json:"subject" yaml:"subject"`
	From    Compatibility `json:"from" yaml:"from"`
	To      Compatibility `json:"to" yaml:"to"`
	Applied bool          `json:"applied" yaml:"applied"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the result of a single migration run
type Report struct {
	RunID                string                `json:"runId" yaml:"runId"`
	Source               string                `json:"source" yaml:"source"`
	DryRun               bool                  `json:"dryRun" yaml:"dryRun"`
	Started              time.Time             `json:"started" yaml:"started"`
	Finished             time.Time             `json:"finished" yaml:"finished"`
	Entries              []Entry               `json:"entries" yaml:"entries"`
	CompatibilityChanges []CompatibilityChange `json:"compatibilityChanges,omitempty" yaml:"compatibilityChanges,omitempty"`
	Summary              map[Outcome]int       `json:"summary" yaml:"summary"`
}

func (r *Report) add(e Entry) {
	r.Entries = append(r.Entries, e)
}

func (r *Report) finish() {
	r.Finished = time.Now()
	r.Summary = make(map[Outcome]int)
	for _, e := range r.Entries {
		r.Summary[e.Outcome]++
	}
}

// Failed returns the failed entries of the report
func (r *Report) Failed() []Entry {
	var failed []Entry
	for _, e := range r.Entries {
		if e.Outcome == OutcomeFailed {
			failed = append(failed, e)
		}
	}

	return failed
}

// Print writes the report to w in the given format (table, yaml or json)
func (r *Report) Print(w io.Writer, format string) error {
	switch format {
	case FormatTable, ``:
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{`origin`, `subject`, `outcome`, `source id`, `target id`, `target version`, `error`})
		table.SetAutoFormatHeaders(true)
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
		for _, e := range r.Entries {
			table.Append([]string{
				e.Origin,
				e.Subject,
				string(e.Outcome),
				optionalInt(e.SourceID),
				optionalInt(e.TargetID),
				optionalInt(e.TargetVersion),
				e.Error,
			})
		}
		table.Render()

		if len(r.CompatibilityChanges) > 0 {
			compat := tablewriter.NewWriter(w)
			compat.SetHeader([]string{`subject`, `from`, `to`, `applied`})
			for _, c := range r.CompatibilityChanges {
				compat.Append([]string{c.Subject, string(c.From), string(c.To), fmt.Sprint(c.Applied)})
			}
			compat.Render()
		}

		_, err := fmt.Fprintf(w, "run %s from %s: registered %d, exists %d, would-register %d, failed %d, skipped %d (%s)\n",
			r.RunID, r.Source, r.Summary[OutcomeRegistered], r.Summary[OutcomeExists], r.Summary[OutcomeWouldRegister],
			r.Summary[OutcomeFailed], r.Summary[OutcomeSkipped], r.Finished.Sub(r.Started).Round(time.Millisecond))
		return err

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return errors.WithPrevious(err, `cannot encode report`)
		}
		return enc.Close()

	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent(``, `  `)
		if err := enc.Encode(r); err != nil {
			return errors.WithPrevious(err, `cannot encode report`)
		}
		return nil
	}

	return errors.New(fmt.Sprintf(`unknown output format %s`, format))
}

func optionalInt(v int) string {
	if v == 0 {
		return `-`
	}

	return fmt.Sprint(v)
}
