package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/replanner/internal/agent/telemetry"
	"github.com/mohammad-safakhou/replanner/internal/capability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dispatcherTracer trace.Tracer = otel.Tracer("replanner/internal/agent/dispatcher")

// DefaultToolTimeout bounds a single tool call when none is configured.
const DefaultToolTimeout = 15 * time.Second

// ToolResponse is the envelope returned for every dispatched call.
type ToolResponse struct {
	Success bool    `json:"success"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
}

// Succeeded builds a success envelope.
func Succeeded(data any) ToolResponse {
	return ToolResponse{Success: true, Data: data}
}

// Failed builds a failure envelope.
func Failed(msg string) ToolResponse {
	return ToolResponse{Success: false, Error: &msg}
}

// ErrorMessage returns the failure text, or "" on success.
func (r ToolResponse) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Text renders Data for inclusion in a step response.
func (r ToolResponse) Text() string {
	switch v := r.Data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// Dispatcher resolves, validates and runs tools from a catalogue.
type Dispatcher struct {
	catalogue *capability.Catalogue
	timeout   time.Duration
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewDispatcher creates a dispatcher over catalogue.
func NewDispatcher(catalogue *capability.Catalogue, timeout time.Duration, tele *telemetry.Telemetry, logger *log.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags)
	}
	return &Dispatcher{catalogue: catalogue, timeout: timeout, telemetry: tele, logger: logger}
}

// Dispatch runs the named tool with params.
//
// Unknown tools return a *capability.ToolNotFoundError and missing required
// parameters return a *MissingParameterError; in both cases the tool is not
// executed. Once validation passes every outcome is reported through the
// envelope and the returned error is nil.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]any) (ToolResponse, error) {
	ctx, span := dispatcherTracer.Start(ctx, "tool.dispatch", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()
	start := time.Now()

	tool, err := d.catalogue.Resolve(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.record(ctx, name, start, "not_found", err.Error())
		return ToolResponse{}, err
	}

	desc := tool.Descriptor()
	if missing := MissingParameters(desc, params); len(missing) > 0 {
		merr := &MissingParameterError{Tool: name, Missing: missing}
		span.AddEvent("tool.missing_parameters")
		d.record(ctx, name, start, "missing_parameters", merr.Error())
		return ToolResponse{}, merr
	}

	result, err := d.invoke(ctx, tool, params)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		execErr := &ToolExecutionError{Tool: name, Err: err}
		span.RecordError(execErr)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Printf("%v", execErr)
		d.record(ctx, name, start, outcome, err.Error())
		return Failed(err.Error()), nil
	}
	span.SetStatus(codes.Ok, "executed")
	d.record(ctx, name, start, "ok", "")
	return Succeeded(decodeResult(result)), nil
}

func (d *Dispatcher) invoke(ctx context.Context, tool capability.Tool, params map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := tool.Execute(callCtx, params)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-callCtx.Done():
		return "", fmt.Errorf("no result after %s: %w", d.timeout, callCtx.Err())
	}
}

func (d *Dispatcher) record(ctx context.Context, name string, start time.Time, outcome, errMsg string) {
	d.telemetry.RecordToolEvent(ctx, telemetry.ToolEvent{
		Tool:      name,
		StartTime: start,
		Duration:  time.Since(start),
		Outcome:   outcome,
		Error:     errMsg,
	})
}

// MissingParameters lists required parameters absent from params. A nil
// value or a blank string counts as absent.
func MissingParameters(desc capability.Descriptor, params map[string]any) []capability.Parameter {
	var missing []capability.Parameter
	for _, p := range desc.Required() {
		v, ok := params[p.Name]
		if !ok || v == nil {
			missing = append(missing, p)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, p)
		}
	}
	return missing
}

// decodeResult keeps structured JSON results structured in the envelope.
func decodeResult(result string) any {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return result
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return result
	}
	return v
}
