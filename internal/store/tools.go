package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/replanner/internal/capability"
)

// ToolDescriptorRecord is a published catalogue entry.
type ToolDescriptorRecord struct {
	Name         string
	Description  string
	Category     string
	Enabled      bool
	Parameters   []byte
	Dependencies []string
	Checksum     string
	Signature    string
	UpdatedAt    time.Time
}

// NewToolDescriptorRecord encodes a descriptor and computes its checksum and signature.
func NewToolDescriptorRecord(d capability.Descriptor, secret string) (ToolDescriptorRecord, error) {
	params, err := json.Marshal(d.RequiredParameters)
	if err != nil {
		return ToolDescriptorRecord{}, err
	}
	sum, err := capability.ComputeChecksum(d)
	if err != nil {
		return ToolDescriptorRecord{}, err
	}
	var sig string
	if secret != "" {
		if sig, err = capability.SignDescriptor(d, secret); err != nil {
			return ToolDescriptorRecord{}, err
		}
	}
	return ToolDescriptorRecord{
		Name:         d.Name,
		Description:  d.Description,
		Category:     d.Category,
		Enabled:      d.Enabled,
		Parameters:   params,
		Dependencies: d.Dependencies,
		Checksum:     sum,
		Signature:    sig,
	}, nil
}

// Descriptor decodes the stored record back into a descriptor.
func (r ToolDescriptorRecord) Descriptor() (capability.Descriptor, error) {
	d := capability.Descriptor{
		Name:         r.Name,
		Description:  r.Description,
		Category:     r.Category,
		Enabled:      r.Enabled,
		Dependencies: r.Dependencies,
	}
	if len(r.Parameters) > 0 {
		if err := json.Unmarshal(r.Parameters, &d.RequiredParameters); err != nil {
			return capability.Descriptor{}, fmt.Errorf("decode parameters of %s: %w", r.Name, err)
		}
	}
	return d, nil
}

// UpsertToolDescriptor stores or updates a tool descriptor.
func (s *Store) UpsertToolDescriptor(ctx context.Context, rec ToolDescriptorRecord) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO tool_registry (name, description, category, enabled, parameters, dependencies, checksum, signature, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (name) DO UPDATE SET
  description = EXCLUDED.description,
  category = EXCLUDED.category,
  enabled = EXCLUDED.enabled,
  parameters = EXCLUDED.parameters,
  dependencies = EXCLUDED.dependencies,
  checksum = EXCLUDED.checksum,
  signature = EXCLUDED.signature,
  updated_at = NOW();
`, rec.Name, rec.Description, rec.Category, rec.Enabled, rec.Parameters, pq.Array(rec.Dependencies), rec.Checksum, rec.Signature)
	if err != nil {
		return err
	}
	if toolsCounter != nil {
		toolsCounter.Add(ctx, 1)
	}
	return nil
}

// ListToolDescriptors returns all published descriptors.
func (s *Store) ListToolDescriptors(ctx context.Context) ([]ToolDescriptorRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name, description, category, enabled, parameters, dependencies, checksum, signature, updated_at FROM tool_registry ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ToolDescriptorRecord
	for rows.Next() {
		var rec ToolDescriptorRecord
		if err := rows.Scan(&rec.Name, &rec.Description, &rec.Category, &rec.Enabled, &rec.Parameters, pq.Array(&rec.Dependencies), &rec.Checksum, &rec.Signature, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetToolDescriptor fetches a descriptor by name.
func (s *Store) GetToolDescriptor(ctx context.Context, name string) (ToolDescriptorRecord, bool, error) {
	var rec ToolDescriptorRecord
	row := s.DB.QueryRowContext(ctx, `SELECT name, description, category, enabled, parameters, dependencies, checksum, signature, updated_at FROM tool_registry WHERE name=$1`, name)
	if err := row.Scan(&rec.Name, &rec.Description, &rec.Category, &rec.Enabled, &rec.Parameters, pq.Array(&rec.Dependencies), &rec.Checksum, &rec.Signature, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ToolDescriptorRecord{}, false, nil
		}
		return ToolDescriptorRecord{}, false, err
	}
	return rec, true, nil
}

// PublishCatalogue mirrors every descriptor of the catalogue into tool_registry.
func (s *Store) PublishCatalogue(ctx context.Context, cat *capability.Catalogue, secret string) (int, error) {
	n := 0
	for d := range cat.List() {
		rec, err := NewToolDescriptorRecord(d, secret)
		if err != nil {
			return n, err
		}
		if err := s.UpsertToolDescriptor(ctx, rec); err != nil {
			return n, fmt.Errorf("publish %s: %w", d.Name, err)
		}
		n++
	}
	s.logger.Printf("published %d tool descriptors", n)
	return n, nil
}
