package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/replanner/internal/capability"
)

// TableTool renders headers and rows as a Markdown table.
type TableTool struct{}

func (TableTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "create_table",
		Description: "Met en forme des données sous forme de tableau Markdown",
		Category:    "utils",
		Enabled:     true,
		RequiredParameters: []capability.Parameter{
			{Name: "headers", Description: "Liste des en-têtes de colonnes", Required: true},
			{Name: "rows", Description: "Liste de lignes, chaque ligne étant une liste de cellules", Required: true},
		},
	}
}

func (TableTool) Execute(_ context.Context, params map[string]any) (string, error) {
	headers, err := stringsParam(params, "headers")
	if err != nil {
		return "", err
	}
	if len(headers) == 0 {
		return "", errors.New("au moins un en-tête est requis")
	}
	rows, err := rowsParam(params, "rows")
	if err != nil {
		return "", err
	}
	return RenderTable(headers, rows)
}

// RenderTable fails when a row is wider than the header; short rows are padded.
func RenderTable(headers []string, rows [][]string) (string, error) {
	var b strings.Builder
	writeRow(&b, headers)
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for i, r := range rows {
		if len(r) > len(headers) {
			return "", fmt.Errorf("la ligne %d contient %d cellules pour %d colonnes", i+1, len(r), len(headers))
		}
		padded := make([]string, len(headers))
		copy(padded, r)
		writeRow(&b, padded)
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		c = strings.ReplaceAll(c, "|", `\|`)
		c = strings.ReplaceAll(c, "\n", " ")
		b.WriteString(" " + c + " |")
	}
	b.WriteString("\n")
}
