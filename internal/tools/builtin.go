package tools

import (
	"fmt"
	"log"
	"slices"

	"github.com/mohammad-safakhou/replanner/config"
	"github.com/mohammad-safakhou/replanner/internal/capability"
)

// disabledTool masks a tool listed in tools.disabled.
type disabledTool struct{ capability.Tool }

func (d disabledTool) Descriptor() capability.Descriptor {
	desc := d.Tool.Descriptor()
	desc.Enabled = false
	return desc
}

// Builtin constructs the built-in tools from configuration. The returned
// close func releases the local knowledge index when one was built.
func Builtin(cfg config.ToolsConfig, logger *log.Logger) ([]capability.Tool, func() error, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	closeFn := func() error { return nil }

	node := NewNodeRED(cfg.NodeRED.BaseURL, cfg.NodeRED.APIKey, NewHTTPClient(cfg.NodeRED.Timeout, cfg.Retries, 0))
	jokes := NewJokesTool(cfg.Jokes.BaseURL, NewHTTPClient(cfg.Jokes.Timeout, cfg.Retries, 0))

	var kb KnowledgeBase
	switch cfg.Knowledge.Backend {
	case "r2r":
		kb = NewR2R(cfg.Knowledge.BaseURL, cfg.Knowledge.APIKey, cfg.Knowledge.Collection,
			NewHTTPClient(cfg.Knowledge.Timeout, cfg.Retries, 0))
	default:
		idx, err := NewLocalIndex()
		if err != nil {
			return nil, nil, fmt.Errorf("local knowledge index: %w", err)
		}
		if cfg.Knowledge.LocalDir != "" {
			n, err := idx.LoadDir(cfg.Knowledge.LocalDir)
			if err != nil {
				_ = idx.Close()
				return nil, nil, fmt.Errorf("indexing %s: %w", cfg.Knowledge.LocalDir, err)
			}
			logger.Printf("indexed %d documents from %s", n, cfg.Knowledge.LocalDir)
		}
		kb = idx
		closeFn = idx.Close
	}

	all := []capability.Tool{
		NewNodeREDStatusTool(node),
		NewTemperatureTool(node),
		NewTemperatureListTool(node),
		jokes,
		NewSearchKnowledgeTool(kb, cfg.Knowledge.TopK),
		NewListDocumentsTool(kb),
		TableTool{},
	}
	for i, t := range all {
		name := t.Descriptor().Name
		if slices.Contains(cfg.Disabled, name) {
			logger.Printf("tool %s disabled by configuration", name)
			all[i] = disabledTool{t}
		}
	}
	return all, closeFn, nil
}

// NewCatalogue builds the built-in catalogue and validates declared dependencies.
func NewCatalogue(cfg config.ToolsConfig, logger *log.Logger) (*capability.Catalogue, func() error, error) {
	all, closeFn, err := Builtin(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cat, err := capability.NewCatalogue(all...)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	if err := cat.CheckDependencies(); err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return cat, closeFn, nil
}
