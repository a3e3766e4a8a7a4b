/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/riferrei/srclient"
	"github.com/tryfix/errors"
)

// SchemaType is the registry schema type of a schema document
type SchemaType string

const (
	SchemaTypeAvro     SchemaType = `AVRO`
	SchemaTypeProtobuf SchemaType = `PROTOBUF`
	SchemaTypeJSON     SchemaType = `JSON`
)

// normalize returns AVRO for the empty type, the registry treats a missing schemaType the same way
func (t SchemaType) normalize() SchemaType {
	if t == `` {
		return SchemaTypeAvro
	}

	return SchemaType(strings.ToUpper(string(t)))
}

// Compatibility is a registry compatibility level. The empty value means the level is not set.
type Compatibility string

const (
	CompatibilityNone               Compatibility = `NONE`
	CompatibilityBackward           Compatibility = `BACKWARD`
	CompatibilityBackwardTransitive Compatibility = `BACKWARD_TRANSITIVE`
	CompatibilityForward            Compatibility = `FORWARD`
	CompatibilityForwardTransitive  Compatibility = `FORWARD_TRANSITIVE`
	CompatibilityFull               Compatibility = `FULL`
	CompatibilityFullTransitive     Compatibility = `FULL_TRANSITIVE`
)

// Reference points to another registered schema used by a schema
type Reference struct {
	Name    string `json:"name" yaml:"name"`
	Subject string `json:"subject" yaml:"subject"`
	Version int    `json:"version" yaml:"version"`
}

// Schema holds a schema document together with the registry coordinates it was read from.
// Id and Version are zero for schemas which are not read from a registry.
type Schema struct {
	Id         int         `json:"id,omitempty" yaml:"id,omitempty"`
	Subject    string      `json:"subject,omitempty" yaml:"subject,omitempty"`
	Version    int         `json:"version,omitempty" yaml:"version,omitempty"`
	Type       SchemaType  `json:"schemaType,omitempty" yaml:"schemaType,omitempty"`
	Schema     string      `json:"schema" yaml:"schema"`
	References []Reference `json:"references,omitempty" yaml:"references,omitempty"`
}

var (
	// ErrNotFound is returned by Client.Lookup when the subject or the schema is unknown to the registry
	ErrNotFound = errors.New(`schema not found`)
)

// Client is the subset of the Schema Registry API used by the migrator
type Client interface {
	Subjects() ([]string, error)
	Versions(subject string) ([]int, error)
	SchemaByVersion(subject string, version int) (*Schema, error)
	SchemaByID(id int) (*Schema, error)
	// Lookup returns the registered version of the schema under the subject or ErrNotFound
	Lookup(subject string, schema *Schema) (*Schema, error)
	// Register registers the schema under the subject and returns its id
	Register(subject string, schema *Schema) (int, error)
	// Compatibility returns the subject level compatibility, empty if the subject has none
	Compatibility(subject string) (Compatibility, error)
	SetCompatibility(subject string, level Compatibility) error
}

// srClient adapts srclient.SchemaRegistryClient to Client
type srClient struct {
	client *srclient.SchemaRegistryClient
}

// NewClient returns a Client connected to the registry described by the RegistryConfig
func NewClient(conf RegistryConfig) (Client, error) {
	httpClient, err := newHTTPClient(conf)
	if err != nil {
		return nil, err
	}

	c := srclient.CreateSchemaRegistryClientWithOptions(strings.TrimSuffix(conf.URL, `/`), httpClient, 16)
	if conf.Basic.Username != `` {
		c.SetCredentials(conf.Basic.Username, conf.Basic.Password)
	}

	return &srClient{client: c}, nil
}

func (c *srClient) Subjects() ([]string, error) {
	subjects, err := c.client.GetSubjects()
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot fetch subjects`)
	}

	return subjects, nil
}

func (c *srClient) Versions(subject string) ([]int, error) {
	versions, err := c.client.GetSchemaVersions(subject)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch versions of subject [%s]`, subject))
	}

	return versions, nil
}

func (c *srClient) SchemaByVersion(subject string, version int) (*Schema, error) {
	sch, err := c.client.GetSchemaByVersion(subject, version)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch schema [%s][%d]`, subject, version))
	}

	return fromSrSchema(subject, sch), nil
}

func (c *srClient) SchemaByID(id int) (*Schema, error) {
	sch, err := c.client.GetSchema(id)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch schema id [%d]`, id))
	}

	return fromSrSchema(``, sch), nil
}

func (c *srClient) Lookup(subject string, schema *Schema) (*Schema, error) {
	sch, err := c.client.LookupSchema(subject, schema.Schema, srclient.SchemaType(schema.Type.normalize()), toSrReferences(schema.References)...)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.WithPrevious(err, fmt.Sprintf(`lookup failed for subject [%s]`, subject))
	}

	return fromSrSchema(subject, sch), nil
}

func (c *srClient) Register(subject string, schema *Schema) (int, error) {
	sch, err := c.client.CreateSchema(subject, schema.Schema, srclient.SchemaType(schema.Type.normalize()), toSrReferences(schema.References)...)
	if err != nil {
		return 0, errors.WithPrevious(err, fmt.Sprintf(`register failed for subject [%s]`, subject))
	}

	return sch.ID(), nil
}

func (c *srClient) Compatibility(subject string) (Compatibility, error) {
	level, err := c.client.GetCompatibilityLevel(subject, false)
	if err != nil {
		if isNotFound(err) {
			return ``, nil
		}
		return ``, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch compatibility of subject [%s]`, subject))
	}

	if level == nil {
		return ``, nil
	}

	return Compatibility(*level), nil
}

func (c *srClient) SetCompatibility(subject string, level Compatibility) error {
	if _, err := c.client.ChangeSubjectCompatibilityLevel(subject, srclient.CompatibilityLevel(level)); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot change compatibility of subject [%s] to %s`, subject, level))
	}

	return nil
}

func fromSrSchema(subject string, sch *srclient.Schema) *Schema {
	s := &Schema{
		Id:      sch.ID(),
		Subject: subject,
		Version: sch.Version(),
		Schema:  sch.Schema(),
		Type:    SchemaTypeAvro,
	}

	if t := sch.SchemaType(); t != nil {
		s.Type = SchemaType(*t).normalize()
	}

	for _, ref := range sch.References() {
		s.References = append(s.References, Reference{
			Name:    ref.Name,
			Subject: ref.Subject,
			Version: ref.Version,
		})
	}

	return s
}

func toSrReferences(refs []Reference) []srclient.Reference {
	out := make([]srclient.Reference, 0, len(refs))
	for _, ref := range refs {
		out = append(out, srclient.Reference{
			Name:    ref.Name,
			Subject: ref.Subject,
			Version: ref.Version,
		})
	}

	return out
}

// registry error codes of the 404 family
const (
	codeSubjectNotFound     = 40401
	codeVersionNotFound     = 40402
	codeSchemaNotFound      = 40403
	codeCompatibilityNotSet = 40408
)

// isNotFound reports whether the registry answered with a 404 error code. Transport failures and
// other statuses are never treated as not found.
func isNotFound(err error) bool {
	if srErr, ok := err.(srclient.Error); ok {
		switch srErr.Code {
		case codeSubjectNotFound, codeVersionNotFound, codeSchemaNotFound, codeCompatibilityNotSet:
			return true
		}
		return false
	}

	// srclient falls back to the plain status line when the body is not a registry error
	return err.Error() == fmt.Sprintf(`%d %s`, http.StatusNotFound, http.StatusText(http.StatusNotFound))
}
