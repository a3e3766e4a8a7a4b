/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tryfix/errors"
)

// mockClient is an in memory registry. Identical schemas share an id across subjects like on a real registry.
type mockClient struct {
	mu            sync.Mutex
	nextID        int
	subjects      map[string][]*Schema
	ids           map[int]*Schema
	compatibility map[string]Compatibility
	registerErr   map[string]error
	lookupErr     map[string]error
	calls         map[string]int
}

func newMockClient() *mockClient {
	return &mockClient{
		nextID:        100,
		subjects:      make(map[string][]*Schema),
		ids:           make(map[int]*Schema),
		compatibility: make(map[string]Compatibility),
		registerErr:   make(map[string]error),
		lookupErr:     make(map[string]error),
		calls:         make(map[string]int),
	}
}

// add registers schema text under subject and returns its id
func (c *mockClient) add(subject string, schemaType SchemaType, schema string, refs ...Reference) int {
	id, err := c.Register(subject, &Schema{Type: schemaType, Schema: schema, References: refs})
	if err != nil {
		panic(err)
	}

	return id
}

func (c *mockClient) Subjects() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[`Subjects`]++

	var subjects []string
	for s := range c.subjects {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	return subjects, nil
}

func (c *mockClient) Versions(subject string) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[`Versions`]++

	schemas, ok := c.subjects[subject]
	if !ok {
		return nil, errors.New(fmt.Sprintf(`40401 subject %s not found`, subject))
	}

	var versions []int
	for _, s := range schemas {
		versions = append(versions, s.Version)
	}

	return versions, nil
}

func (c *mockClient) SchemaByVersion(subject string, version int) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[`SchemaByVersion`]++

	for _, s := range c.subjects[subject] {
		if s.Version == version {
			return copySchema(s), nil
		}
	}

	return nil, errors.New(fmt.Sprintf(`40402 version %d of %s not found`, version, subject))
}

func (c *mockClient) SchemaByID(id int) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[`SchemaByID`]++

	s, ok := c.ids[id]
	if !ok {
		return nil, errors.New(fmt.Sprintf(`40403 schema %d not found`, id))
	}

	cp := copySchema(s)
	cp.Subject = ``
	cp.Version = 0

	return cp, nil
}

func (c *mockClient) Lookup(subject string, schema *Schema) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[`Lookup`]++

	if err, ok := c.lookupErr[subject]; ok {
		return nil, err
	}

	if s := c.find(subject, schema); s != nil {
		return copySchema(s), nil
	}

	return nil, ErrNotFound
}

func (c *mockClient) Register(subject string, schema *Schema) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[`Register`]++

	if err, ok := c.registerErr[subject]; ok {
		return 0, err
	}

	if s := c.find(subject, schema); s != nil {
		return s.Id, nil
	}

	id := 0
	for existingID, s := range c.ids {
		if sameSchema(s, schema) {
			id = existingID
		}
	}
	if id == 0 {
		c.nextID++
		id = c.nextID
	}

	s := &Schema{
		Id:         id,
		Subject:    subject,
		Version:    len(c.subjects[subject]) + 1,
		Type:       schema.Type.normalize(),
		Schema:     schema.Schema,
		References: append([]Reference(nil), schema.References...),
	}
	c.subjects[subject] = append(c.subjects[subject], s)
	c.ids[id] = s

	return id, nil
}

func (c *mockClient) Compatibility(subject string) (Compatibility, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[`Compatibility`]++

	return c.compatibility[subject], nil
}

func (c *mockClient) SetCompatibility(subject string, level Compatibility) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[`SetCompatibility`]++

	c.compatibility[subject] = level
	return nil
}

func (c *mockClient) callCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[method]
}

func (c *mockClient) find(subject string, schema *Schema) *Schema {
	for _, s := range c.subjects[subject] {
		if sameSchema(s, schema) {
			return s
		}
	}

	return nil
}

func sameSchema(a, b *Schema) bool {
	if a.Type.normalize() != b.Type.normalize() || a.Schema != b.Schema || len(a.References) != len(b.References) {
		return false
	}

	for i := range a.References {
		if a.References[i] != b.References[i] {
			return false
		}
	}

	return true
}
