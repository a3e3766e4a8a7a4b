/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tryfix/errors"
)

type JSONUnmarshaler struct {
	data []byte
}

// JSONMarshaller validates payloads against a JSON schema on both encode and decode
type JSONMarshaller struct {
	schema   string
	compiled *jsonschema.Schema
}

func NewJSONMarshaller(schema string) *JSONMarshaller {
	return &JSONMarshaller{
		schema: schema,
	}
}

func (s *JSONMarshaller) Init() error {
	compiled, err := jsonschema.CompileString(`schema.json`, s.schema)
	if err != nil {
		return errors.WithPrevious(err, `json schema compile error`)
	}

	s.compiled = compiled
	return nil
}

func (s *JSONMarshaller) NewUnmarshaler(data []byte) Unmarshaler {
	return &JSONUnmarshaler{
		data: data,
	}
}

func (s *JSONUnmarshaler) Unmarshal(in interface{}) error {
	return json.Unmarshal(s.data, in)
}

func (s *JSONMarshaller) Marshall(data interface{}) ([]byte, error) {
	byt, err := json.Marshal(data)
	if err != nil {
		return nil, errors.WithPrevious(err, `json marshal failed`)
	}

	if err := s.Validate(byt); err != nil {
		return nil, err
	}

	return byt, nil
}

func (s *JSONMarshaller) Validate(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return errors.WithPrevious(err, `invalid json payload`)
	}

	if err := s.compiled.Validate(v); err != nil {
		return errors.WithPrevious(err, `json schema validation failed`)
	}

	return nil
}
