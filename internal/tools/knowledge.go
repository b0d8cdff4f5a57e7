package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/replanner/internal/capability"
)

// Hit is one retrieved passage.
type Hit struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Document summarizes an indexed document.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// KnowledgeBase is the retrieval backend behind search_knowledge and list_documents.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
	Documents(ctx context.Context) ([]Document, error)
}

// R2R is a client for the R2R retrieval service v3 API.
type R2R struct {
	baseURL    string
	apiKey     string
	collection string
	http       *HTTPClient
}

func NewR2R(baseURL, apiKey, collection string, client *HTTPClient) *R2R {
	return &R2R{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, collection: collection, http: client}
}

func (r *R2R) headers() map[string]string {
	if r.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + r.apiKey}
}

func (r *R2R) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	settings := map[string]any{"limit": topK}
	if r.collection != "" {
		settings["filters"] = map[string]any{
			"collection_ids": map[string]any{"$overlap": []string{r.collection}},
		}
	}
	req := map[string]any{"query": query, "search_settings": settings}
	var resp struct {
		Results struct {
			ChunkSearchResults []struct {
				DocumentID string         `json:"document_id"`
				Text       string         `json:"text"`
				Score      float64        `json:"score"`
				Metadata   map[string]any `json:"metadata"`
			} `json:"chunk_search_results"`
		} `json:"results"`
	}
	if err := r.http.DoJSON(ctx, "POST", r.baseURL+"/v3/retrieval/search", r.headers(), req, &resp); err != nil {
		return nil, fmt.Errorf("r2r search: %w", err)
	}
	hits := make([]Hit, 0, len(resp.Results.ChunkSearchResults))
	for _, c := range resp.Results.ChunkSearchResults {
		title, _ := c.Metadata["title"].(string)
		hits = append(hits, Hit{DocumentID: c.DocumentID, Title: title, Text: c.Text, Score: c.Score})
	}
	return hits, nil
}

func (r *R2R) Documents(ctx context.Context) ([]Document, error) {
	var resp struct {
		Results []struct {
			ID       string         `json:"id"`
			Title    string         `json:"title"`
			Metadata map[string]any `json:"metadata"`
		} `json:"results"`
	}
	if err := r.http.GetJSON(ctx, r.baseURL, "/v3/documents", nil, r.headers(), &resp); err != nil {
		return nil, fmt.Errorf("r2r documents: %w", err)
	}
	docs := make([]Document, 0, len(resp.Results))
	for _, d := range resp.Results {
		title := d.Title
		if title == "" {
			title, _ = d.Metadata["title"].(string)
		}
		docs = append(docs, Document{ID: d.ID, Title: title})
	}
	return docs, nil
}

func (r *R2R) CheckHealth(ctx context.Context) error {
	return r.http.GetJSON(ctx, r.baseURL, "/v3/health", nil, r.headers(), nil)
}

type indexedDoc struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// LocalIndex is an in-memory bleve index over plain text documents.
type LocalIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	docs  map[string]indexedDoc
}

func NewLocalIndex() (*LocalIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &LocalIndex{index: index, docs: make(map[string]indexedDoc)}, nil
}

// LoadDir indexes every .md and .txt file under dir, keyed by relative path.
func (l *LocalIndex) LoadDir(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := l.Add(filepath.ToSlash(rel), title, string(b)); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func (l *LocalIndex) Add(id, title, text string) error {
	doc := indexedDoc{Title: title, Text: text}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.index.Index(id, doc); err != nil {
		return err
	}
	l.docs[id] = doc
	return nil
}

func (l *LocalIndex) Search(_ context.Context, query string, topK int) ([]Hit, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), topK, 0, false)
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, err := l.index.Search(req)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		doc := l.docs[h.ID]
		hits = append(hits, Hit{DocumentID: h.ID, Title: doc.Title, Text: snippet(doc.Text), Score: h.Score})
	}
	return hits, nil
}

func (l *LocalIndex) Documents(context.Context) ([]Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Document, 0, len(l.docs))
	for id, d := range l.docs {
		out = append(out, Document{ID: id, Title: d.Title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *LocalIndex) Close() error { return l.index.Close() }

func snippet(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= 300 {
		return string(r)
	}
	return string(r[:300]) + "..."
}

// SearchKnowledgeTool searches the knowledge base.
type SearchKnowledgeTool struct {
	kb   KnowledgeBase
	topK int
}

func NewSearchKnowledgeTool(kb KnowledgeBase, defaultTopK int) *SearchKnowledgeTool {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &SearchKnowledgeTool{kb: kb, topK: defaultTopK}
}

func (t *SearchKnowledgeTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "search_knowledge",
		Description: "Recherche des passages pertinents dans la base documentaire",
		Category:    "knowledge",
		Enabled:     true,
		RequiredParameters: []capability.Parameter{
			{Name: "query", Description: "Texte de la recherche", Required: true},
			{Name: "top_k", Description: "Nombre maximum de résultats", Required: false},
		},
	}
}

func (t *SearchKnowledgeTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return "", err
	}
	k, err := intParam(params, "top_k", t.topK)
	if err != nil {
		return "", err
	}
	if k <= 0 {
		return "", errors.New("top_k doit être positif")
	}
	hits, err := t.kb.Search(ctx, query, k)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "Aucun document pertinent trouvé.", nil
	}
	return encodeResult(map[string]any{"results": hits})
}

func (t *SearchKnowledgeTool) CheckHealth(ctx context.Context) error {
	if hc, ok := t.kb.(capability.HealthChecker); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}

// ListDocumentsTool lists the documents available to search_knowledge.
type ListDocumentsTool struct{ kb KnowledgeBase }

func NewListDocumentsTool(kb KnowledgeBase) *ListDocumentsTool { return &ListDocumentsTool{kb: kb} }

func (t *ListDocumentsTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "list_documents",
		Description: "Liste les documents disponibles dans la base documentaire",
		Category:    "knowledge",
		Enabled:     true,
	}
}

func (t *ListDocumentsTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	docs, err := t.kb.Documents(ctx)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "Aucun document disponible.", nil
	}
	return encodeResult(map[string]any{"documents": docs})
}
