/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tryfix/errors"
)

func TestWatch_RunsOnce(t *testing.T) {
	var calls int32
	err := Watch(context.Background(), 0, nil, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New(`pass failed`)
	})

	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWatch_RepeatsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	err := Watch(ctx, 5*time.Millisecond, nil, func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 3 {
			cancel()
		}
		// failed passes do not stop watching
		return errors.New(`pass failed`)
	})

	assert.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
