package runtime

import (
	"context"
	"log"

	"github.com/mohammad-safakhou/replanner/internal/capability"
	"github.com/mohammad-safakhou/replanner/internal/store"
)

// RegistrySync summarizes a tool registry synchronisation.
type RegistrySync struct {
	Added     []string
	Updated   []string
	Unchanged []string
	// Tampered lists stored entries whose signature did not verify; they
	// are overwritten with the current descriptor.
	Tampered []string
}

// ToolRegistryStore is the persistence used by SyncToolRegistry.
type ToolRegistryStore interface {
	ListToolDescriptors(ctx context.Context) ([]store.ToolDescriptorRecord, error)
	UpsertToolDescriptor(ctx context.Context, rec store.ToolDescriptorRecord) error
}

// SyncToolRegistry publishes the catalogue into the tool registry, writing
// only descriptors whose checksum changed or whose stored signature fails.
func SyncToolRegistry(ctx context.Context, st ToolRegistryStore, cat *capability.Catalogue, secret string, logger *log.Logger) (RegistrySync, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	existing, err := st.ListToolDescriptors(ctx)
	if err != nil {
		return RegistrySync{}, err
	}
	stored := make(map[string]store.ToolDescriptorRecord, len(existing))
	for _, rec := range existing {
		stored[rec.Name] = rec
	}

	var report RegistrySync
	for d := range cat.List() {
		rec, err := store.NewToolDescriptorRecord(d, secret)
		if err != nil {
			return report, err
		}
		prev, ok := stored[d.Name]
		switch {
		case !ok:
			report.Added = append(report.Added, d.Name)
		case !signatureValid(prev, secret):
			logger.Printf("warn: stored descriptor %s failed signature verification", d.Name)
			report.Tampered = append(report.Tampered, d.Name)
		case prev.Checksum != rec.Checksum || prev.Signature != rec.Signature:
			report.Updated = append(report.Updated, d.Name)
		default:
			report.Unchanged = append(report.Unchanged, d.Name)
			continue
		}
		if err := st.UpsertToolDescriptor(ctx, rec); err != nil {
			return report, err
		}
	}
	logger.Printf("tool registry: %d added, %d updated, %d unchanged, %d tampered",
		len(report.Added), len(report.Updated), len(report.Unchanged), len(report.Tampered))
	return report, nil
}

func signatureValid(rec store.ToolDescriptorRecord, secret string) bool {
	if secret == "" {
		return true
	}
	d, err := rec.Descriptor()
	if err != nil {
		return false
	}
	return capability.VerifySignature(d, rec.Signature, secret) == nil
}
