/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"fmt"

	"github.com/tryfix/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

type ProtoUnmarshaler struct {
	data []byte
}

// ProtoMarshaller handles protobuf payloads. Without generated types at hand, generic decoding returns the raw
// message bytes.
type ProtoMarshaller struct{}

func NewProtoMarshaller() Marshaller {
	return &ProtoMarshaller{}
}

func (s *ProtoMarshaller) Init() error {
	return nil
}

func (s *ProtoMarshaller) NewUnmarshaler(data []byte) Unmarshaler {
	return &ProtoUnmarshaler{
		data: data,
	}
}

func (s *ProtoUnmarshaler) Unmarshal(in interface{}) error {
	switch v := in.(type) {
	case proto.Message:
		if err := proto.Unmarshal(s.data, v); err != nil {
			return errors.WithPrevious(err, `failed to unmarshal protobuf message`)
		}
		return nil
	case *interface{}:
		byt := make([]byte, len(s.data))
		copy(byt, s.data)
		*v = byt
		return nil
	}

	return errors.New(fmt.Sprintf(`cannot unmarshal protobuf message into %T`, in))
}

func (s *ProtoMarshaller) Marshall(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errors.New(fmt.Sprintf(`%T is not a protobuf message`, v))
	}

	value, err := proto.Marshal(msg)
	if err != nil {
		return nil, errors.WithPrevious(err, `failed to marshal protobuf message`)
	}

	return value, nil
}

// Validate checks the payload is a well formed sequence of protobuf fields
func (s *ProtoMarshaller) Validate(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.WithPrevious(protowire.ParseError(n), `invalid protobuf tag`)
		}
		data = data[n:]

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return errors.WithPrevious(protowire.ParseError(n), fmt.Sprintf(`invalid protobuf field %d`, num))
		}
		data = data[n:]
	}

	return nil
}
