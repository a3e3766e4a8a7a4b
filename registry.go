/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

// Version is the type to hold default load version options
type Version int

const (
	//VersionLatest constant hold the flag to load the latest version of the subject
	VersionLatest Version = -1
	//VersionAll constant hold the flag to load all the versions of the subject
	VersionAll Version = -2
)

// String returns the loaded version type
func (v Version) String() string {

	if v == VersionLatest {
		return `Latest`
	}

	if v == VersionAll {
		return `All`
	}

	return fmt.Sprint(int(v))
}

type options struct {
	client Client
	logger log.Logger
}

// Registry is a caching Client. Schemas by id and by subject version never change on a registry and are kept
// for the lifetime of the Registry, lookups are cached once found.
type Registry struct {
	client   Client
	byID     map[int]*Schema
	versions map[string]map[int]*Schema
	lookups  map[string]*Schema
	encoders map[int]*Encoder            // id/encoder
	loaded   map[string]map[int]*Encoder // subject/version/encoder
	mu       *sync.RWMutex
	logger   log.Logger
}

// Option is a type to host NewRegistry configurations
type Option func(*options)

// WithLogger returns a Configurations to create a NewRegistry with given PrefixedLogger
func WithLogger(logger log.Logger) Option {
	return func(options *options) {
		options.logger = logger
	}
}

// WithClient replaces the registry client built from the RegistryConfig
func WithClient(client Client) Option {
	return func(options *options) {
		options.client = client
	}
}

// NewRegistry returns a Registry connected to the registry described by conf
func NewRegistry(conf RegistryConfig, opts ...Option) (*Registry, error) {
	options := new(options)
	for _, opt := range opts {
		opt(options)
	}

	if options.logger == nil {
		options.logger = log.NewNoopLogger()
	}

	if options.client == nil {
		c, err := NewClient(conf)
		if err != nil {
			return nil, err
		}
		options.client = c
	}

	return &Registry{
		client:   options.client,
		byID:     make(map[int]*Schema),
		versions: make(map[string]map[int]*Schema),
		lookups:  make(map[string]*Schema),
		encoders: make(map[int]*Encoder),
		loaded:   make(map[string]map[int]*Encoder),
		mu:       new(sync.RWMutex),
		logger:   options.logger,
	}, nil
}

func (r *Registry) Subjects() ([]string, error) {
	return r.client.Subjects()
}

func (r *Registry) Versions(subject string) ([]int, error) {
	return r.client.Versions(subject)
}

func (r *Registry) SchemaByVersion(subject string, version int) (*Schema, error) {
	r.mu.RLock()
	s, ok := r.versions[subject][version]
	r.mu.RUnlock()
	if ok {
		return copySchema(s), nil
	}

	s, err := r.client.SchemaByVersion(subject, version)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cacheVersion(subject, s)
	if s.Id > 0 {
		r.byID[s.Id] = s
	}
	r.mu.Unlock()

	return copySchema(s), nil
}

func (r *Registry) SchemaByID(id int) (*Schema, error) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		return copySchema(s), nil
	}

	s, err := r.client.SchemaByID(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byID[id] = s
	r.mu.Unlock()

	return copySchema(s), nil
}

func (r *Registry) Lookup(subject string, schema *Schema) (*Schema, error) {
	k := lookupKey(subject, schema)

	r.mu.RLock()
	s, ok := r.lookups[k]
	r.mu.RUnlock()
	if ok {
		return copySchema(s), nil
	}

	s, err := r.client.Lookup(subject, schema)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.lookups[k] = s
	r.cacheVersion(subject, s)
	r.mu.Unlock()

	return copySchema(s), nil
}

func (r *Registry) Register(subject string, schema *Schema) (int, error) {
	return r.client.Register(subject, schema)
}

func (r *Registry) Compatibility(subject string) (Compatibility, error) {
	return r.client.Compatibility(subject)
}

func (r *Registry) SetCompatibility(subject string, level Compatibility) error {
	return r.client.SetCompatibility(subject, level)
}

// cacheVersion has to be called with the write lock held
func (r *Registry) cacheVersion(subject string, s *Schema) {
	if s.Version < 1 {
		return
	}

	if r.versions[subject] == nil {
		r.versions[subject] = make(map[int]*Schema)
	}
	r.versions[subject][s.Version] = s
}

// Load fetches the given subject version (or VersionLatest, VersionAll) and keeps an Encoder for it.
// unmarshalerFunc converts decoded messages and may be nil.
func (r *Registry) Load(subject string, version int, unmarshalerFunc UnmarshalerFunc) error {
	if version == int(VersionAll) {
		versions, err := r.Versions(subject)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if err := r.Load(subject, v, unmarshalerFunc); err != nil {
				return err
			}
		}
		return nil
	}

	if version == int(VersionLatest) {
		versions, err := r.Versions(subject)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return errors.New(fmt.Sprintf(`subject [%s] has no versions`, subject))
		}
		sort.Ints(versions)
		version = versions[len(versions)-1]
	}

	s, err := r.SchemaByVersion(subject, version)
	if err != nil {
		return err
	}
	s.Subject = subject

	e, err := NewEncoder(r, s, unmarshalerFunc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.loaded[subject][s.Version]; ok {
		r.logger.Warn(fmt.Sprintf(`subject [%s][%s] already loaded`, subject, Version(s.Version)))
	}
	if r.loaded[subject] == nil {
		r.loaded[subject] = make(map[int]*Encoder)
	}
	r.loaded[subject][s.Version] = e
	r.encoders[s.Id] = e
	r.mu.Unlock()

	r.logger.Info(fmt.Sprintf(`subject [%s][%s] loaded`, subject, Version(s.Version)))

	return nil
}

// WithSchema return the specific encoder which was loaded under the subject and version
func (r *Registry) WithSchema(subject string, version int) *Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.loaded[subject][version]
	if !ok {
		panic(fmt.Sprintf(`schemamigrator.registry: subject [%s][%d] not loaded`, subject, version))
	}

	return e
}

// WithLatestSchema returns the encoder of the latest version loaded under given subject
func (r *Registry) WithLatestSchema(subject string) *Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.loaded[subject]
	if !ok {
		panic(fmt.Sprintf(`schemamigrator.registry: subject [%s] not loaded`, subject))
	}

	var v int
	for version := range versions {
		if version > v {
			v = version
		}
	}

	return versions[v]
}

func (r *Registry) GenericEncoder() *GenericEncoder {
	return &GenericEncoder{registry: r}
}

// encoder returns the Encoder of a schema id, schemas which are not loaded are fetched by id
func (r *Registry) encoder(id int) (*Encoder, error) {
	r.mu.RLock()
	e, ok := r.encoders[id]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	s, err := r.SchemaByID(id)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`schema id [%d] cannot be resolved`, id))
	}
	s.Id = id

	e, err = NewEncoder(r, s, nil)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.encoders[id]; ok {
		e = existing
	} else {
		r.encoders[id] = e
	}
	r.mu.Unlock()

	return e, nil
}

// Print logs the loaded encoders as a table
func (r *Registry) Print() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`Schema Id`, `subject`, `version`, `type`, `unmarshaler`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	table.SetAutoFormatHeaders(true)

	subjects := make([]string, 0, len(r.loaded))
	for subject := range r.loaded {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	for _, subject := range subjects {
		versions := make([]int, 0, len(r.loaded[subject]))
		for v := range r.loaded[subject] {
			versions = append(versions, v)
		}
		sort.Ints(versions)

		for _, v := range versions {
			e := r.loaded[subject][v]
			table.Append([]string{
				fmt.Sprint(e.schema.Id),
				subject,
				fmt.Sprint(Version(v)),
				string(e.schema.Type.normalize()),
				fmt.Sprint(e.unmarshalerFunc != nil),
			})
		}
	}

	table.Render()
	r.logger.Info(fmt.Sprintf("schemas\n%s", b.String()))
}

func lookupKey(subject string, s *Schema) string {
	b := new(strings.Builder)
	b.WriteString(subject)
	b.WriteByte(0)
	b.WriteString(string(s.Type.normalize()))
	b.WriteByte(0)
	b.WriteString(s.Schema)
	for _, ref := range s.References {
		b.WriteString(fmt.Sprintf("\x00%s/%s/%d", ref.Name, ref.Subject, ref.Version))
	}

	return b.String()
}

func copySchema(s *Schema) *Schema {
	cp := *s
	if s.References != nil {
		cp.References = append([]Reference(nil), s.References...)
	}

	return &cp
}
