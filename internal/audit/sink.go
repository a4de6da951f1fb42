package audit

import (
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Sink receives exactly one record per pipeline run, after the pipeline has
// finished. Log must not return control flow to the pipeline: invariant
// violations panic, I/O problems are the sink's own concern.
type Sink interface {
	Log(rec *Record)
	Close()
}

// LogSink writes records as structured zap entries. Used when no audit file
// is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink on the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Log(rec *Record) {
	rec.Validate()
	s.logger.Info("tool_audit",
		zap.String("request_id", rec.RequestID),
		zap.String("agent_id", rec.AgentID),
		zap.String("agent_name", rec.AgentName),
		zap.String("trust_level", rec.TrustLevel),
		zap.String("access_mode", rec.AccessMode),
		zap.String("tool_name", rec.ToolName),
		zap.String("raw_args_hash", rec.RawArgsHash),
		zap.Bool("nonce_valid", rec.NonceValid),
		zap.Bool("enveloped", rec.Enveloped),
		zap.String("detected_via", rec.DetectedVia),
		zap.String("decision", rec.Decision),
		zap.Bool("validation_ok", rec.ValidationOK),
		zap.Strings("validation_errors", rec.ValidationErrors),
		zap.Int("output_size", rec.OutputSize),
		zap.Float64("execution_ms", rec.ExecutionMS),
		zap.Strings("artifacts", rec.Artifacts),
	)
}

func (s *LogSink) Close() {}

// FileSink appends one JSON record per line to an audit file opened in
// append-only mode with 0600 permissions.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the audit file at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Log(rec *Record) {
	rec.Validate()
	encoded, err := json.Marshal(rec)
	if err != nil {
		panic("audit: record does not serialize: " + err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Write(append(encoded, '\n')) //nolint:errcheck // append-only best effort
}

func (s *FileSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Close() //nolint:errcheck
}

// Tee fans each record out to several sinks in order. The first sink is the
// authoritative one; later sinks are mirrors.
type Tee []Sink

func (t Tee) Log(rec *Record) {
	for _, s := range t {
		s.Log(rec)
	}
}

func (t Tee) Close() {
	for _, s := range t {
		s.Close()
	}
}
