/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"github.com/tryfix/errors"
)

// GenericEncoder decodes messages of any schema id known to the Registry
type GenericEncoder struct {
	registry *Registry
}

func (s *GenericEncoder) Encode(data interface{}) ([]byte, error) {
	return nil, errors.New(`generic encoder does not support encoding of messages`)
}

// Decode decodes the message with the Encoder of its schema id, the schema is fetched when not loaded yet
func (s *GenericEncoder) Decode(data []byte) (interface{}, error) {
	if !IsFramed(data) {
		return nil, ErrInvalidFrame
	}

	e, err := s.registry.encoder(decodePrefix(data))
	if err != nil {
		return nil, err
	}

	return e.decode(data)
}

// Validate checks the message is readable with the schema of its id
func (s *GenericEncoder) Validate(data []byte) error {
	if !IsFramed(data) {
		return ErrInvalidFrame
	}

	e, err := s.registry.encoder(decodePrefix(data))
	if err != nil {
		return err
	}

	return e.Validate(data)
}
