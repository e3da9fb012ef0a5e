package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var errExporterClosed = errors.New("trace exporter closed")

// FileExporter appends one JSON line per finished span. Deployment
// attributes (run, step, chain, transaction, contract) are lifted into
// top-level fields so the file doubles as an audit trail of a run.
type FileExporter struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewFileExporter opens path for appending, creating parent directories.
func NewFileExporter(path string) (*FileExporter, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304 -- configured trace path
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	return &FileExporter{f: f, enc: json.NewEncoder(f)}, nil
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *FileExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return errExporterClosed
	}
	for _, span := range spans {
		if err := e.enc.Encode(NewSpanRecord(span)); err != nil {
			return fmt.Errorf("writing span %s: %w", span.Name(), err)
		}
	}
	return nil
}

// Shutdown closes the file. Later calls are no-ops.
func (e *FileExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return nil
	}
	err := e.f.Close()
	e.f, e.enc = nil, nil
	return err
}

// SpanRecord is the line written for each span.
type SpanRecord struct {
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_span_id,omitempty"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Start      time.Time      `json:"start_time"`
	DurationMs float64        `json:"duration_ms"`
	Status     string         `json:"status"`
	StatusMsg  string         `json:"status_message,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	Step       string         `json:"step,omitempty"`
	ChainID    int64          `json:"chain_id,omitempty"`
	TxHash     string         `json:"tx_hash,omitempty"`
	Address    string         `json:"address,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Events     []EventRecord  `json:"events,omitempty"`
}

// EventRecord is a span event inside a SpanRecord.
type EventRecord struct {
	Name       string         `json:"name"`
	At         time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// lifted attributes move out of the attribute map into SpanRecord fields.
var lifted = map[attribute.Key]func(*SpanRecord, attribute.Value){
	AttrRunID:   func(r *SpanRecord, v attribute.Value) { r.RunID = v.AsString() },
	AttrStep:    func(r *SpanRecord, v attribute.Value) { r.Step = v.AsString() },
	AttrChainID: func(r *SpanRecord, v attribute.Value) { r.ChainID = v.AsInt64() },
	AttrTxHash:  func(r *SpanRecord, v attribute.Value) { r.TxHash = v.AsString() },
	AttrAddress: func(r *SpanRecord, v attribute.Value) { r.Address = v.AsString() },
}

// NewSpanRecord converts a finished span.
func NewSpanRecord(span sdktrace.ReadOnlySpan) SpanRecord {
	status := span.Status()
	r := SpanRecord{
		TraceID:    span.SpanContext().TraceID().String(),
		SpanID:     span.SpanContext().SpanID().String(),
		Name:       span.Name(),
		Kind:       span.SpanKind().String(),
		Start:      span.StartTime(),
		DurationMs: float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000,
		Status:     status.Code.String(),
		StatusMsg:  status.Description,
	}
	if parent := span.Parent(); parent.IsValid() {
		r.ParentID = parent.SpanID().String()
	}
	for _, kv := range span.Attributes() {
		if set, ok := lifted[kv.Key]; ok {
			set(&r, kv.Value)
			continue
		}
		if r.Attributes == nil {
			r.Attributes = make(map[string]any)
		}
		r.Attributes[string(kv.Key)] = kv.Value.AsInterface()
	}
	for _, ev := range span.Events() {
		r.Events = append(r.Events, EventRecord{Name: ev.Name, At: ev.Time, Attributes: attrMap(ev.Attributes)})
	}
	return r
}

func attrMap(kvs []attribute.KeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
