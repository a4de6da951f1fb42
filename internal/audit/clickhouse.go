package audit

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseSink mirrors audit records into ClickHouse asynchronously. It is
// a secondary sink: the authoritative trail is the file or log sink, so a
// full buffer drops the mirror copy rather than blocking the pipeline.
type ClickHouseSink struct {
	conn    driver.Conn
	buffer  chan *Record
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseSink connects to ClickHouse and starts the background flush
// loop.
func NewClickHouseSink(dsn string, logger *zap.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		conn:    conn,
		buffer:  make(chan *Record, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go s.flushLoop()
	return s, nil
}

// Log queues a record for async insertion. Non-blocking: drops the record if
// the buffer is full.
func (s *ClickHouseSink) Log(rec *Record) {
	rec.Validate()
	select {
	case s.buffer <- rec:
	default:
		s.logger.Warn("clickhouse buffer full, dropping audit record",
			zap.String("request_id", rec.RequestID),
		)
	}
}

// Close signals the flush loop to drain remaining records.
func (s *ClickHouseSink) Close() {
	close(s.done)
	<-s.flushed
}

func (s *ClickHouseSink) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, flushBatch)

	for {
		select {
		case rec := <-s.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case rec := <-s.buffer:
					batch = append(batch, rec)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *ClickHouseSink) flush(records []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO tool_audit_events (
			request_id, agent_id, agent_name, trust_level, access_mode,
			tool_name, raw_args_hash, nonce_valid, enveloped, detected_via,
			decision, validation_ok, validation_errors,
			output_size, execution_ms, artifacts
		)
	`)
	if err != nil {
		s.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		var nonceValid, enveloped, validationOK uint8
		if r.NonceValid {
			nonceValid = 1
		}
		if r.Enveloped {
			enveloped = 1
		}
		if r.ValidationOK {
			validationOK = 1
		}

		if err := batch.Append(
			r.RequestID,
			r.AgentID,
			r.AgentName,
			r.TrustLevel,
			r.AccessMode,
			r.ToolName,
			r.RawArgsHash,
			nonceValid,
			enveloped,
			r.DetectedVia,
			r.Decision,
			validationOK,
			r.ValidationErrors,
			int64(r.OutputSize),
			r.ExecutionMS,
			r.Artifacts,
		); err != nil {
			s.logger.Error("clickhouse append record failed",
				zap.String("request_id", r.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}
