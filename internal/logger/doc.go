// Package logger holds the SDK's zap logger: a process-wide base logger set
// once from Config.Log, component loggers via Named, and request-scoped
// loggers carried on the context.
package logger
