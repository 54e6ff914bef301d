package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/twmb/franz-go/pkg/kgo"

	"specsync/internal/config"
	"specsync/internal/logger"
	"specsync/pkg/domain"
)

// Sink receives the finished report of a run.
type Sink interface {
	Publish(ctx context.Context, r domain.Report) error
}

// LogSink logs one summary line per domain.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink returns a sink logging through log.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, r domain.Report) error {
	for _, d := range r.Domains {
		args := []any{
			"run_id", r.RunID,
			"domain", string(d.Domain),
			"version", d.Version,
			"written", d.Written,
			"added", len(d.Added),
			"refreshed", len(d.Refreshed),
			"stale", len(d.Stale),
			"retired", len(d.Retired),
			"archived", len(d.Archived),
			"quarantined", len(d.Quarantined),
		}
		if d.Err != nil {
			s.log.Error("domain sync failed", append(args, "error", d.Err)...)
			continue
		}
		s.log.Info("domain synced", args...)
	}
	return nil
}

// WriterSink renders the report to an io.Writer.
type WriterSink struct {
	w      io.Writer
	format string
}

// NewWriterSink renders to w in format.
func NewWriterSink(w io.Writer, format string) *WriterSink {
	return &WriterSink{w: w, format: format}
}

// Publish implements Sink.
func (s *WriterSink) Publish(_ context.Context, r domain.Report) error {
	return Render(s.w, r, s.format)
}

// FileSink renders the report into a file, replacing it through a temp file.
type FileSink struct {
	path   string
	format string
}

// NewFileSink writes to path in format.
func NewFileSink(path, format string) *FileSink {
	return &FileSink{path: path, format: format}
}

// Publish implements Sink.
func (s *FileSink) Publish(_ context.Context, r domain.Report) error {
	var buf bytes.Buffer
	if err := Render(&buf, r, s.format); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return fmt.Errorf("create report temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

// producer is the subset of *kgo.Client used by KafkaSink.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSink publishes one record per domain, keyed by domain name.
type KafkaSink struct {
	client producer
	topic  string
}

// message is the Kafka payload for a single domain.
type message struct {
	RunID string `json:"run_id"`
	domain.DomainReport
}

// NewKafkaSink connects a franz-go producer to brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, config.ErrMissingKafkaTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("specsync"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, r domain.Report) error {
	r = withErrors(r)
	records := make([]*kgo.Record, 0, len(r.Domains))
	for _, d := range r.Domains {
		value, err := json.Marshal(message{RunID: r.RunID, DomainReport: d})
		if err != nil {
			return fmt.Errorf("encode %s report: %w", d.Domain, err)
		}
		records = append(records, &kgo.Record{
			Topic:   s.topic,
			Key:     []byte(d.Domain),
			Value:   value,
			Headers: []kgo.RecordHeader{{Key: "run_id", Value: []byte(r.RunID)}},
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce report: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() error {
	s.client.Close()
	return nil
}

// Multi fans a report out to several sinks.
type Multi []Sink

// Publish publishes to every sink and joins their errors.
func (m Multi) Publish(ctx context.Context, r domain.Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var newKafkaSink = NewKafkaSink

// FromConfig assembles the configured sinks: the rendered report goes to
// cfg.Output or stdout, a summary goes to log, and Kafka is added when brokers
// are configured.
func FromConfig(cfg config.ReportConfig, log *logger.Logger, stdout io.Writer) (Multi, error) {
	var sinks Multi
	if cfg.Output != "" {
		sinks = append(sinks, NewFileSink(cfg.Output, cfg.Format))
	} else if stdout != nil {
		sinks = append(sinks, NewWriterSink(stdout, cfg.Format))
	}
	if log != nil {
		sinks = append(sinks, NewLogSink(log))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := newKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
	}
	return sinks, nil
}
