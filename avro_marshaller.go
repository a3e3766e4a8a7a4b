/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"fmt"
	"io"

	"github.com/hamba/avro/v2"
	"github.com/tryfix/errors"
)

// AvroMarshaller reads and writes Avro binary payloads of one schema. The schema is parsed into its own
// cache so named types of different subjects do not clash.
type AvroMarshaller struct {
	source string
	schema avro.Schema
}

func NewAvroMarshaller(schema string) *AvroMarshaller {
	return &AvroMarshaller{
		source: schema,
	}
}

func (m *AvroMarshaller) Init() error {
	schema, err := avro.ParseWithCache(m.source, ``, &avro.SchemaCache{})
	if err != nil {
		return errors.WithPrevious(err, `avro schema parsing error`)
	}

	m.schema = schema
	return nil
}

func (m *AvroMarshaller) NewUnmarshaler(data []byte) Unmarshaler {
	return &avroUnmarshaler{
		marshaller: m,
		data:       data,
	}
}

func (m *AvroMarshaller) Marshall(data interface{}) ([]byte, error) {
	byt, err := avro.Marshal(m.schema, data)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`avro marshal failed for %s`, fullName(m.schema)))
	}

	return byt, nil
}

// Validate checks data holds exactly one value of the schema
func (m *AvroMarshaller) Validate(data []byte) error {
	var v interface{}
	return m.read(data, &v)
}

// read decodes a single value into v, bytes left after the value are an error
func (m *AvroMarshaller) read(data []byte, v interface{}) error {
	r := avro.NewReader(nil, 0).Reset(data)
	r.ReadVal(m.schema, v)
	switch {
	case r.Error == io.EOF:
		return nil
	case r.Error != nil:
		return errors.WithPrevious(r.Error, fmt.Sprintf(`cannot read %s`, fullName(m.schema)))
	}

	if r.Peek(); r.Error != io.EOF {
		return errors.New(fmt.Sprintf(`trailing bytes after %s`, fullName(m.schema)))
	}

	return nil
}

type avroUnmarshaler struct {
	marshaller *AvroMarshaller
	data       []byte
}

func (u *avroUnmarshaler) Unmarshal(in interface{}) error {
	return u.marshaller.read(u.data, in)
}
