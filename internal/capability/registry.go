package capability

import (
	"errors"
	"fmt"
	"iter"
	"sync"
)

var (
	// ErrDuplicateTool indicates a tool name is already registered.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrToolNotFound indicates no enabled tool is registered under a name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidDescriptor indicates a descriptor failed validation.
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")
	// ErrDependencyMissing indicates a declared dependency is not registered.
	ErrDependencyMissing = errors.New("tool dependency missing")
)

// DuplicateToolError is returned by Register when the name is taken.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

func (e *DuplicateToolError) Unwrap() error { return ErrDuplicateTool }

// ToolNotFoundError is returned by Resolve for unknown or disabled tools.
type ToolNotFoundError struct {
	Name     string
	Disabled bool
}

func (e *ToolNotFoundError) Error() string {
	if e.Disabled {
		return fmt.Sprintf("tool %q is disabled", e.Name)
	}
	return fmt.Sprintf("tool %q not found", e.Name)
}

func (e *ToolNotFoundError) Unwrap() error { return ErrToolNotFound }

type entry struct {
	desc Descriptor
	tool Tool
}

// Catalogue maps tool names to implementations. It is populated at start-up
// and then shared read-only across requests.
type Catalogue struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

// NewCatalogue registers tools in order and fails on the first error.
func NewCatalogue(tools ...Tool) (*Catalogue, error) {
	c := &Catalogue{entries: make(map[string]entry)}
	for _, t := range tools {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a tool under its descriptor name.
func (c *Catalogue) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidDescriptor)
	}
	desc := tool.Descriptor()
	if err := desc.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]entry)
	}
	if _, ok := c.entries[desc.Name]; ok {
		return &DuplicateToolError{Name: desc.Name}
	}
	c.entries[desc.Name] = entry{desc: desc.clone(), tool: tool}
	c.order = append(c.order, desc.Name)
	return nil
}

// Resolve returns the enabled tool registered under name.
func (c *Catalogue) Resolve(name string) (Tool, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	if !e.desc.Enabled {
		return nil, &ToolNotFoundError{Name: name, Disabled: true}
	}
	return e.tool, nil
}

// Descriptor returns a copy of the stored descriptor for name.
func (c *Catalogue) Descriptor(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc.clone(), true
}

// List yields descriptors in registration order. Each call starts a new
// iteration over a snapshot of the names registered at that moment.
func (c *Catalogue) List() iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		c.mu.RLock()
		names := append([]string(nil), c.order...)
		c.mu.RUnlock()
		for _, name := range names {
			d, ok := c.Descriptor(name)
			if !ok {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Tools yields name and implementation pairs in registration order.
func (c *Catalogue) Tools() iter.Seq2[Descriptor, Tool] {
	return func(yield func(Descriptor, Tool) bool) {
		c.mu.RLock()
		names := append([]string(nil), c.order...)
		c.mu.RUnlock()
		for _, name := range names {
			c.mu.RLock()
			e, ok := c.entries[name]
			c.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(e.desc.clone(), e.tool) {
				return
			}
		}
	}
}

// Len returns the number of registered tools.
func (c *Catalogue) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// CheckDependencies ensures every declared dependency names a registered tool.
func (c *Catalogue) CheckDependencies() error {
	var errs []error
	for d := range c.List() {
		for _, dep := range d.Dependencies {
			if _, ok := c.Descriptor(dep); !ok {
				errs = append(errs, fmt.Errorf("%w: %s requires %s", ErrDependencyMissing, d.Name, dep))
			}
		}
	}
	return errors.Join(errs...)
}
