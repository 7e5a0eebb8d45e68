package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithLevel returns a copy of the logger filtered at level ("debug", "info", ...).
// Unknown levels leave the logger unchanged.
func (l *Logger) WithLevel(level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return l
	}
	return &Logger{logger: l.logger.Level(lvl)}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithPeer adds remote peer address context to logger.
func (l *Logger) WithPeer(addr string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("peer", addr).Logger(),
	}
}

// WithFile adds remote object context to logger.
func (l *Logger) WithFile(remotePath string, size int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("remote_path", remotePath).
			Int64("size", size).
			Logger(),
	}
}

// WithOperation adds the engine operation name to logger.
func (l *Logger) WithOperation(op string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("operation", op).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// StateChanged logs an engine state transition.
func (l *Logger) StateChanged(op, from, to string) {
	l.logger.Debug().
		Str("operation", op).
		Str("from", from).
		Str("to", to).
		Msg("envelope state changed")
}

// OperationStarted logs the start of an envelope operation.
func (l *Logger) OperationStarted(op string, version byte, size int64) {
	l.logger.Info().
		Str("operation", op).
		Uint8("scheme_version", version).
		Int64("size", size).
		Msg("envelope operation started")
}

// OperationCompleted logs the end of an envelope operation with the peer status.
func (l *Logger) OperationCompleted(op string, status int32, bytes int64, duration time.Duration) {
	l.logger.Info().
		Str("operation", op).
		Int32("peer_status", status).
		Int64("bytes", bytes).
		Float64("duration_seconds", duration.Seconds()).
		Msg("envelope operation completed")
}

// OperationFailed logs an envelope operation failure with its status code.
func (l *Logger) OperationFailed(op string, code int32, err error) {
	l.logger.Error().
		Str("operation", op).
		Int32("code", code).
		Err(err).
		Msg("envelope operation failed")
}

// KeyDerived logs KDF timing. Key material is never logged.
func (l *Logger) KeyDerived(stage string, cost uint8, memory uint64, duration time.Duration) {
	l.logger.Debug().
		Str("stage", stage).
		Uint8("cost", cost).
		Uint64("memory_bytes", memory).
		Float64("duration_seconds", duration.Seconds()).
		Msg("key derived")
}

// ObjectStored logs a completed upload on the storage peer.
func (l *Logger) ObjectStored(remotePath string, size int64, digest string) {
	l.logger.Info().
		Str("remote_path", remotePath).
		Int64("size", size).
		Str("blake3", digest).
		Msg("object stored")
}

// ShareCreated logs share registration on the storage peer.
func (l *Logger) ShareCreated(remotePath, shareID string) {
	l.logger.Info().
		Str("remote_path", remotePath).
		Str("share_id", shareID).
		Msg("share created")
}

// ConnectionEstablished logs connection establishment.
func (l *Logger) ConnectionEstablished(remoteAddr string, connectionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("connection_id", connectionID).
		Msg("QUIC connection established")
}

// ConnectionFailed logs connection failure.
func (l *Logger) ConnectionFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("QUIC connection failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
