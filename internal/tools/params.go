package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

func stringParam(params map[string]any, name string) (string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return "", nil
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case json.Number:
		return x.String(), nil
	default:
		return "", fmt.Errorf("parameter %s must be a string, got %T", name, v)
	}
}

func dateParam(params map[string]any, name string) (time.Time, error) {
	s, err := stringParam(params, name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("format de date invalide pour %s, utilisez YYYY-MM-DD", name)
	}
	return t, nil
}

// intParam accepts json.Number, float64 with no fraction, int or a numeric string.
func intParam(params map[string]any, name string, def int) (int, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("parameter %s must be an integer", name)
		}
		return int(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s must be an integer", name)
		}
		return int(n), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("parameter %s must be an integer", name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %s must be an integer, got %T", name, v)
	}
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func stringsParam(params map[string]any, name string) ([]string, error) {
	raw, ok := params[name].([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %s must be a list", name)
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = cellText(v)
	}
	return out, nil
}

func rowsParam(params map[string]any, name string) ([][]string, error) {
	raw, ok := params[name].([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %s must be a list of rows", name)
	}
	out := make([][]string, 0, len(raw))
	for i, r := range raw {
		cells, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("row %d of %s must be a list", i, name)
		}
		row := make([]string, len(cells))
		for j, c := range cells {
			row[j] = cellText(c)
		}
		out = append(out, row)
	}
	return out, nil
}

func encodeResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
