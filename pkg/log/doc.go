/*
Package log provides structured logging for the node-agent using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("statusmanager")            │          │
	│  │  - WithFrameworkID("fw-abc123")              │          │
	│  │  - WithExecutorID("ex-def456")               │          │
	│  │  - WithTaskID("task-ghi789")                 │          │
	│  │  - WithUpdateUUID(update.UUID.String())      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "registry",                 │          │
	│  │    "time": "2026-07-31T10:30:00Z",          │          │
	│  │    "message": "task dispatched"             │          │
	│  │  }                                           │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every agent package without being passed down

Context Loggers:
  - WithComponent: tag logs with the owning actor (reaper, registry,
    statusmanager, checkpoint, gc, agent)
  - WithFrameworkID / WithExecutorID / WithTaskID: tag logs with the
    entity a handler is currently operating on
  - WithUpdateUUID: trace one status update across admission,
    forwarding, and ack

# Usage

Initializing the logger:

	import "github.com/cuemby/warren-agent/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("agent started")
	log.Warn("status-update backlog exceeds soft cap")
	log.Error("checkpoint write failed")
	log.Fatal("cannot start without a writable work_dir")

Component and entity loggers:

	registryLog := log.WithComponent("registry")
	registryLog.Info().Msg("runTask dispatched")

	taskLog := log.WithComponent("statusmanager").
		With().Str("framework_id", "fw-1").
		Str("task_id", "task-1").Logger()
	taskLog.Debug().Str("update_uuid", u.UUID.String()).Msg("update forwarded")

# Integration Points

cmd/agent initializes this package and passes log.Logger into the
components it constructs. The component packages (pkg/reaper,
pkg/isolator, pkg/statusmanager, pkg/registry, pkg/gc, pkg/agent, and
pkg/transport's backends) take a zerolog.Logger and do not import this
package themselves.

# Best Practices

Do:
  - Use Info level for production
  - Create component-specific loggers rather than logging off the
    bare global Logger
  - Log errors with .Err() for structured stack context
  - Include the entity IDs a handler is operating on

Don't:
  - Log task payload bytes (StatusUpdate.Data) at any level above Debug
  - Use Debug level in production
  - Block on log writes in a handler that must not stall its actor
*/
package log
