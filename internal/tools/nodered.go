package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/replanner/internal/capability"
)

const (
	minTemperature = -50.0
	maxTemperature = 50.0
)

// ErrNoData is returned when the flow engine has no measurement for the request.
var ErrNoData = errors.New("aucune donnée disponible")

// NodeRED talks to the flow engine fronting the measurements database.
type NodeRED struct {
	baseURL string
	apiKey  string
	http    *HTTPClient
}

func NewNodeRED(baseURL, apiKey string, client *HTTPClient) *NodeRED {
	return &NodeRED{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: client}
}

func (n *NodeRED) headers() map[string]string {
	if n.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + n.apiKey}
}

// Reading is a single temperature measurement.
type Reading struct {
	Date        string  `json:"date"`
	Temperature float64 `json:"temperature"`
	Unit        string  `json:"unit"`
}

func checkReading(r Reading) error {
	if r.Temperature < minTemperature || r.Temperature > maxTemperature {
		return fmt.Errorf("valeur de température invalide reçue de Node-RED: %v", r.Temperature)
	}
	return nil
}

func (n *NodeRED) Temperature(ctx context.Context, date string) (Reading, error) {
	var body struct {
		Temperature *float64 `json:"temperature"`
	}
	err := n.http.GetJSON(ctx, n.baseURL, "/query/temperature", url.Values{"date": {date}}, n.headers(), &body)
	if err != nil {
		return Reading{}, noData(err)
	}
	if body.Temperature == nil {
		return Reading{}, ErrNoData
	}
	r := Reading{Date: date, Temperature: *body.Temperature, Unit: "°C"}
	return r, checkReading(r)
}

func (n *NodeRED) Temperatures(ctx context.Context, start, end string) ([]Reading, error) {
	var body struct {
		Temperatures []Reading `json:"temperatures"`
	}
	q := url.Values{"start_date": {start}, "end_date": {end}}
	if err := n.http.GetJSON(ctx, n.baseURL, "/list/temperatures", q, n.headers(), &body); err != nil {
		return nil, noData(err)
	}
	out := make([]Reading, 0, len(body.Temperatures))
	for _, r := range body.Temperatures {
		r.Unit = "°C"
		if err := checkReading(r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Ping checks the flow engine admin endpoint answers.
func (n *NodeRED) Ping(ctx context.Context) error {
	return n.http.GetJSON(ctx, n.baseURL, "/settings", nil, n.headers(), nil)
}

func noData(err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return ErrNoData
	}
	return err
}

var nodeREDDependency = []string{"node_red_status"}

// TemperatureTool returns the temperature measured on a given day.
type TemperatureTool struct{ node *NodeRED }

func NewTemperatureTool(node *NodeRED) *TemperatureTool { return &TemperatureTool{node: node} }

func (t *TemperatureTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "temperature",
		Description: "Récupère la température mesurée pour une date donnée",
		Category:    "node_red",
		Enabled:     true,
		RequiredParameters: []capability.Parameter{
			{Name: "date", Description: "Date au format YYYY-MM-DD", Required: true},
		},
		Dependencies: nodeREDDependency,
	}
}

func (t *TemperatureTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	d, err := dateParam(params, "date")
	if err != nil {
		return "", err
	}
	r, err := t.node.Temperature(ctx, d.Format(dateLayout))
	if err != nil {
		return "", err
	}
	return encodeResult(r)
}

func (t *TemperatureTool) CheckHealth(ctx context.Context) error { return t.node.Ping(ctx) }

// TemperatureListTool returns the measurements in an inclusive date range.
type TemperatureListTool struct{ node *NodeRED }

func NewTemperatureListTool(node *NodeRED) *TemperatureListTool {
	return &TemperatureListTool{node: node}
}

func (t *TemperatureListTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "temperature_list",
		Description: "Liste les températures mesurées entre deux dates",
		Category:    "node_red",
		Enabled:     true,
		RequiredParameters: []capability.Parameter{
			{Name: "start_date", Description: "Date de début au format YYYY-MM-DD", Required: true},
			{Name: "end_date", Description: "Date de fin au format YYYY-MM-DD", Required: true},
		},
		Dependencies: nodeREDDependency,
	}
}

func (t *TemperatureListTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	start, err := dateParam(params, "start_date")
	if err != nil {
		return "", err
	}
	end, err := dateParam(params, "end_date")
	if err != nil {
		return "", err
	}
	if start.After(end) {
		return "", fmt.Errorf("la date de début %s est postérieure à la date de fin %s", start.Format(dateLayout), end.Format(dateLayout))
	}
	readings, err := t.node.Temperatures(ctx, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return "", err
	}
	if len(readings) == 0 {
		return "", ErrNoData
	}
	return encodeResult(map[string]any{"temperatures": readings})
}

func (t *TemperatureListTool) CheckHealth(ctx context.Context) error { return t.node.Ping(ctx) }

// NodeREDStatusTool reports whether the flow engine is reachable.
type NodeREDStatusTool struct{ node *NodeRED }

func NewNodeREDStatusTool(node *NodeRED) *NodeREDStatusTool { return &NodeREDStatusTool{node: node} }

func (t *NodeREDStatusTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "node_red_status",
		Description: "Vérifie que le serveur Node-RED est joignable",
		Category:    "node_red",
		Enabled:     true,
	}
}

func (t *NodeREDStatusTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	if err := t.node.Ping(ctx); err != nil {
		return "", fmt.Errorf("Node-RED injoignable: %w", err)
	}
	return "Node-RED est opérationnel", nil
}

func (t *NodeREDStatusTool) CheckHealth(ctx context.Context) error { return t.node.Ping(ctx) }
