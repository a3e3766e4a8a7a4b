/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tryfix/log"
)

// Watch calls fn immediately and then on every interval until ctx is done. Errors of a single pass are
// logged and the next pass is attempted. A non-positive interval runs fn once and returns its error.
func Watch(ctx context.Context, interval time.Duration, logger log.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = logger.NewLog(log.Prefixed(`Watch`))

	if interval <= 0 {
		return fn(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pass := 0
	run := func() {
		if ctx.Err() != nil {
			return
		}
		pass++
		logger.Debug(fmt.Sprintf(`Looking for new schemas (pass %d)...`, pass))
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(fmt.Sprintf(`Pass %d failed due to %s`, pass, err))
		}
	}

	logger.Info(fmt.Sprintf(`Watching for new schemas every %s`, interval))
	run()

	for {
		select {
		case <-ctx.Done():
			logger.Info(fmt.Sprintf(`Watch stopped after %d pass/es`, pass))
			return nil
		case <-ticker.C:
			run()
		}
	}
}
