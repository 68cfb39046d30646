/*
Package log provides structured logging for Quorum using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initializing the logger:

	import "github.com/cuemby/quorum/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	constituentLog := log.WithComponent("constituent")
	constituentLog.Info().Uint64("term", 7).Msg("Converted to leader")

	jobLog := log.WithJobID("1-3")
	jobLog.Error().Err(err).Msg("MoveShard precondition failed")

# Integration Points

This package integrates with:

  - pkg/agent: logs writes, commits and leadership changes
  - pkg/constituent: logs role transitions, elections and vote traffic
  - pkg/supervision: logs job lifecycle transitions
  - pkg/api: logs request handling errors
*/
package log
