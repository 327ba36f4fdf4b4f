// Package logging provides the minimal logging interface used across MengLong
// and adapters for it.
//
// Every component accepts a Logger through its options and defaults to
// NoOpLogger. Messages are dotted event names ("tool.call.success",
// "agent.state.transition") followed by slog style key/value pairs.
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	a := agent.New(m, reg, func(o *agent.Options) { o.Logger = logger })
package logging
