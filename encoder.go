/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"encoding/binary"
	"fmt"

	"github.com/tryfix/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	magicByte  = 0
	prefixSize = 5
)

var ErrInvalidFrame = errors.New(`payload is not in the schema registry wire format`)

// Marshaller encodes and decodes the payload of one schema
type Marshaller interface {
	Init() error
	Marshall(v interface{}) ([]byte, error)
	NewUnmarshaler(data []byte) Unmarshaler
	// Validate checks the payload can be read with the schema
	Validate(data []byte) error
}

type Unmarshaler interface {
	Unmarshal(in interface{}) error
}

// UnmarshalerFunc turns a payload into an application type
type UnmarshalerFunc func(unmarshaler Unmarshaler) (v interface{}, err error)

// Frame is a decoded registry wire format message
//
//	╔════════════════════╤════════════════════╤═══════════════════════════════╤═════════╗
//	║ magic byte(1 byte) │ schema id(4 bytes) │ message indexes(protobuf only) │ payload ║
//	╚════════════════════╧════════════════════╧═══════════════════════════════╧═════════╝
type Frame struct {
	ID      int
	Indexes []int
	Payload []byte
}

// IsFramed reports whether data starts with the wire format prefix. Registry ids start at 1, a zero id
// is read as an unframed payload such as a big-endian integer key.
func IsFramed(data []byte) bool {
	return len(data) >= prefixSize && data[0] == magicByte && decodePrefix(data) > 0
}

// ParseFrame splits data into the schema id, the protobuf message indexes (only when schemaType is PROTOBUF)
// and the payload
func ParseFrame(data []byte, schemaType SchemaType) (*Frame, error) {
	if !IsFramed(data) {
		return nil, ErrInvalidFrame
	}

	f := &Frame{
		ID:      decodePrefix(data),
		Payload: data[prefixSize:],
	}

	if schemaType.normalize() != SchemaTypeProtobuf {
		return f, nil
	}

	indexes, n, err := readMessageIndexes(f.Payload)
	if err != nil {
		return nil, err
	}
	f.Indexes = indexes
	f.Payload = f.Payload[n:]

	return f, nil
}

// Bytes encodes the frame. Indexes are written only when set, the [0] index list is written as a single 0.
func (f *Frame) Bytes(schemaType SchemaType) []byte {
	byt := encodePrefix(f.ID)
	if schemaType.normalize() == SchemaTypeProtobuf {
		byt = appendMessageIndexes(byt, f.Indexes)
	}

	return append(byt, f.Payload...)
}

// Reframe returns a copy of data with the schema id replaced
func Reframe(data []byte, id int) ([]byte, error) {
	if !IsFramed(data) {
		return nil, ErrInvalidFrame
	}

	byt := make([]byte, len(data))
	copy(byt, data)
	binary.BigEndian.PutUint32(byt[1:prefixSize], uint32(id))

	return byt, nil
}

func encodePrefix(id int) []byte {
	byt := make([]byte, prefixSize)
	binary.BigEndian.PutUint32(byt[1:], uint32(id))
	return byt
}

func decodePrefix(byt []byte) int {
	return int(binary.BigEndian.Uint32(byt[1:prefixSize]))
}

func appendMessageIndexes(byt []byte, indexes []int) []byte {
	if len(indexes) == 0 || (len(indexes) == 1 && indexes[0] == 0) {
		return protowire.AppendVarint(byt, protowire.EncodeZigZag(0))
	}

	byt = protowire.AppendVarint(byt, protowire.EncodeZigZag(int64(len(indexes))))
	for _, i := range indexes {
		byt = protowire.AppendVarint(byt, protowire.EncodeZigZag(int64(i)))
	}

	return byt
}

func readMessageIndexes(byt []byte) ([]int, int, error) {
	count, n := protowire.ConsumeVarint(byt)
	if n < 0 {
		return nil, 0, errors.WithPrevious(protowire.ParseError(n), `invalid message index count`)
	}

	size := protowire.DecodeZigZag(count)
	if size == 0 {
		return []int{0}, n, nil
	}

	if size < 0 || size > int64(len(byt)) {
		return nil, 0, errors.New(fmt.Sprintf(`invalid message index count %d`, size))
	}

	indexes := make([]int, 0, size)
	read := n
	for i := int64(0); i < size; i++ {
		idx, n := protowire.ConsumeVarint(byt[read:])
		if n < 0 {
			return nil, 0, errors.WithPrevious(protowire.ParseError(n), `invalid message index`)
		}
		indexes = append(indexes, int(protowire.DecodeZigZag(idx)))
		read += n
	}

	return indexes, read, nil
}

// Encoder encodes and decodes messages of a single registered schema
type Encoder struct {
	schema          *Schema
	registry        *Registry
	marshaller      Marshaller
	unmarshalerFunc UnmarshalerFunc
}

// NewEncoder returns an Encoder for the schema. reg resolves the schema ids of decoded messages and may be nil,
// in which case only messages of the schema itself can be decoded.
func NewEncoder(reg *Registry, schema *Schema, unmarshalerFunc UnmarshalerFunc) (*Encoder, error) {
	m, err := newMarshaller(schema)
	if err != nil {
		return nil, err
	}

	return &Encoder{
		schema:          schema,
		registry:        reg,
		marshaller:      m,
		unmarshalerFunc: unmarshalerFunc,
	}, nil
}

func newMarshaller(schema *Schema) (Marshaller, error) {
	var m Marshaller
	switch schema.Type.normalize() {
	case SchemaTypeAvro:
		m = NewAvroMarshaller(schema.Schema)
	case SchemaTypeProtobuf:
		m = NewProtoMarshaller()
	case SchemaTypeJSON:
		m = NewJSONMarshaller(schema.Schema)
	default:
		return nil, errors.New(fmt.Sprintf(`unsupported schema type %s`, schema.Type))
	}

	if err := m.Init(); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot init encoder for schema [%d]`, schema.Id))
	}

	return m, nil
}

// Encode returns the framed payload of data
func (e *Encoder) Encode(data interface{}) ([]byte, error) {
	payload, err := e.marshaller.Marshall(data)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`encode failed for schema [%d]`, e.schema.Id))
	}

	f := &Frame{ID: e.schema.Id, Payload: payload}

	return f.Bytes(e.schema.Type), nil
}

// Decode returns the decoded message. The Encoder of the schema id in the frame is used for decoding.
func (e *Encoder) Decode(data []byte) (interface{}, error) {
	if !IsFramed(data) {
		return nil, ErrInvalidFrame
	}

	enc := e
	if id := decodePrefix(data); id != e.schema.Id {
		if e.registry == nil {
			return nil, errors.New(fmt.Sprintf(`schema id [%d] does not match the encoder schema [%d]`, id, e.schema.Id))
		}

		found, err := e.registry.encoder(id)
		if err != nil {
			return nil, err
		}
		enc = found
	}

	return enc.decode(data)
}

func (e *Encoder) decode(data []byte) (interface{}, error) {
	f, err := ParseFrame(data, e.schema.Type)
	if err != nil {
		return nil, err
	}

	unmarshaler := e.marshaller.NewUnmarshaler(f.Payload)
	if e.unmarshalerFunc != nil {
		return e.unmarshalerFunc(unmarshaler)
	}

	var v interface{}
	if err := unmarshaler.Unmarshal(&v); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`data unmarshal error, schema [%d]`, e.schema.Id))
	}

	return v, nil
}

// Validate checks a framed message is readable with the schema of the Encoder
func (e *Encoder) Validate(data []byte) error {
	f, err := ParseFrame(data, e.schema.Type)
	if err != nil {
		return err
	}

	if err := e.marshaller.Validate(f.Payload); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`payload does not match schema [%d]`, e.schema.Id))
	}

	return nil
}

// Schema returns the schema associated with the Encoder
func (e *Encoder) Schema() *Schema {
	return e.schema
}
