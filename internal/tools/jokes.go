package tools

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/replanner/internal/capability"
)

// JokesTool fetches a random Chuck Norris joke.
type JokesTool struct {
	baseURL string
	http    *HTTPClient
}

func NewJokesTool(baseURL string, client *HTTPClient) *JokesTool {
	return &JokesTool{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (t *JokesTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "jokes",
		Description: "Raconte une blague Chuck Norris",
		Category:    "fun",
		Enabled:     true,
		RequiredParameters: []capability.Parameter{
			{Name: "category", Description: "Catégorie de blague (optionnelle)", Required: false},
		},
	}
}

func (t *JokesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	category, err := stringParam(params, "category")
	if err != nil {
		return "", err
	}
	var q url.Values
	if category != "" {
		q = url.Values{"category": {category}}
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := t.http.GetJSON(ctx, t.baseURL, "/jokes/random", q, nil, &body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.Value) == "" {
		return "", errors.New("réponse vide du service de blagues")
	}
	return body.Value, nil
}

func (t *JokesTool) CheckHealth(ctx context.Context) error {
	return t.http.GetJSON(ctx, t.baseURL, "/jokes/categories", nil, nil, nil)
}
