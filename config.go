// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package dispatch

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxMessageProcessingInterval is used when a Config does not specify
// one. It caps the worst-case idle latency of the dispatch loop at 250ms.
const DefaultMaxMessageProcessingInterval = 250 * time.Millisecond

// A Config holds the options recognised by the dispatcher. The zero value
// is not valid; use [DefaultConfig] or fill in MaxMessageProcessingInterval
// explicitly.
type Config struct {
	// MaxMessageProcessingInterval caps the adaptive backoff's sleep
	// duration. A smaller value tightens worst-case idle latency at the
	// cost of more idle wakeups.
	MaxMessageProcessingInterval time.Duration

	// Logger receives the Warn/Error log records documented by this
	// package. If nil, logrus.StandardLogger() is used.
	Logger *logrus.Logger
}

// DefaultConfig returns a Config with DefaultMaxMessageProcessingInterval
// and the standard logrus logger.
func DefaultConfig() Config {
	return Config{MaxMessageProcessingInterval: DefaultMaxMessageProcessingInterval}
}

// validate reports an invariant-violation error for a Config that cannot be
// used to construct a Dispatcher, following the teacher's practice of
// validating configuration guards at construction time rather than deep in
// the call graph.
func (c Config) validate() error {
	if c.MaxMessageProcessingInterval <= 0 {
		return fmt.Errorf("dispatch: MaxMessageProcessingInterval must be positive, got %v", c.MaxMessageProcessingInterval)
	}
	return nil
}

func (c Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}
