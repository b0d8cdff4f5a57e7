package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/replanner/internal/capability"
)

func TestDispatchMissingParameterSkipsExecution(t *testing.T) {
	tool := temperatureTool(nil)
	d := NewDispatcher(mustCatalogue(t, tool), time.Second, nil, nil)

	for _, params := range []map[string]any{
		{},
		{"date": nil},
		{"date": "   "},
		{"city": "Paris"},
	} {
		_, err := d.Dispatch(context.Background(), "temperature", params)
		var missing *MissingParameterError
		if !errors.As(err, &missing) {
			t.Fatalf("params %v: expected MissingParameterError, got %v", params, err)
		}
		if len(missing.Missing) != 1 || missing.Missing[0].Name != "date" {
			t.Fatalf("unexpected missing list %+v", missing.Missing)
		}
	}
	if n := tool.calls.Load(); n != 0 {
		t.Fatalf("tool executed %d times despite missing parameters", n)
	}
}

func TestDispatchOptionalParametersNotRequired(t *testing.T) {
	tool := &countingTool{desc: capability.Descriptor{
		Name:    "jokes",
		Enabled: true,
		RequiredParameters: []capability.Parameter{
			{Name: "category", Description: "Catégorie", Required: false},
		},
	}}
	d := NewDispatcher(mustCatalogue(t, tool), time.Second, nil, nil)
	resp, err := d.Dispatch(context.Background(), "jokes", map[string]any{})
	if err != nil || !resp.Success {
		t.Fatalf("expected success, got %+v, %v", resp, err)
	}
	if tool.calls.Load() != 1 {
		t.Fatalf("expected exactly one call, got %d", tool.calls.Load())
	}
}

func TestDispatchContainsFailures(t *testing.T) {
	cases := map[string]func(ctx context.Context, params map[string]any) (string, error){
		"error": func(context.Context, map[string]any) (string, error) {
			return "", errors.New("connection refused")
		},
		"panic": func(context.Context, map[string]any) (string, error) {
			panic("nil map write")
		},
		"timeout": func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return "late", nil
		},
		"ignores context": func(context.Context, map[string]any) (string, error) {
			time.Sleep(time.Second)
			return "late", nil
		},
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			tool := temperatureTool(run)
			d := NewDispatcher(mustCatalogue(t, tool), 50*time.Millisecond, nil, nil)
			resp, err := d.Dispatch(context.Background(), "temperature", map[string]any{"date": "2025-02-04"})
			if err != nil {
				t.Fatalf("dispatch must not return an error after validation, got %v", err)
			}
			if resp.Success || resp.Data != nil || resp.Error == nil || *resp.Error == "" {
				t.Fatalf("expected failure envelope, got %+v", resp)
			}
			if tool.calls.Load() != 1 {
				t.Fatalf("expected exactly one call, got %d", tool.calls.Load())
			}
		})
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(mustCatalogue(t), time.Second, nil, nil)
	_, err := d.Dispatch(context.Background(), "weather", nil)
	if !errors.Is(err, capability.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestDispatchSuccessEnvelope(t *testing.T) {
	tool := temperatureTool(func(_ context.Context, params map[string]any) (string, error) {
		return `{"date":"` + params["date"].(string) + `","temperature":21.5}`, nil
	})
	d := NewDispatcher(mustCatalogue(t, tool), time.Second, nil, nil)
	resp, err := d.Dispatch(context.Background(), "temperature", map[string]any{"date": "2025-02-04"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !resp.Success || resp.Error != nil {
		t.Fatalf("expected success envelope, got %+v", resp)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["temperature"] != 21.5 {
		t.Fatalf("expected structured data, got %#v", resp.Data)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"error":null`) || !strings.Contains(string(b), `"success":true`) {
		t.Fatalf("unexpected envelope json %s", b)
	}
}

func TestFailedEnvelopeJSON(t *testing.T) {
	b, err := json.Marshal(Failed("boom"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"success":false,"data":null,"error":"boom"}` {
		t.Fatalf("unexpected json %s", b)
	}
}

func TestToolResponseText(t *testing.T) {
	if got := Succeeded("22°C").Text(); got != "22°C" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := Succeeded(map[string]any{"value": "joke"}).Text(); got != `{"value":"joke"}` {
		t.Fatalf("unexpected text %q", got)
	}
}
