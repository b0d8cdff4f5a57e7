package capability

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Parameter describes one named input a tool accepts.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Descriptor is the registry metadata for a tool.
type Descriptor struct {
	Name               string      `json:"name"`
	Description        string      `json:"description"`
	Category           string      `json:"category"`
	Enabled            bool        `json:"enabled"`
	RequiredParameters []Parameter `json:"required_parameters"`
	Dependencies       []string    `json:"dependencies"`
}

// Tool is a named capability the dispatcher can invoke.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// HealthChecker is implemented by tools whose backing service can be probed.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Required returns the parameters marked required, in declaration order.
func (d Descriptor) Required() []Parameter {
	var out []Parameter
	for _, p := range d.RequiredParameters {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the descriptor can be registered.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidDescriptor)
	}
	if strings.ContainsAny(d.Name, " \t\n") {
		return fmt.Errorf("%w: name %q contains whitespace", ErrInvalidDescriptor, d.Name)
	}
	seen := make(map[string]struct{}, len(d.RequiredParameters))
	for _, p := range d.RequiredParameters {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: tool %s has an unnamed parameter", ErrInvalidDescriptor, d.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: tool %s declares parameter %s twice", ErrInvalidDescriptor, d.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

func (d Descriptor) clone() Descriptor {
	d.RequiredParameters = slices.Clone(d.RequiredParameters)
	d.Dependencies = slices.Clone(d.Dependencies)
	return d
}

// ComputeChecksum returns a deterministic hash of the descriptor payload.
// Empty and nil lists hash the same.
func ComputeChecksum(d Descriptor) (string, error) {
	if len(d.RequiredParameters) == 0 {
		d.RequiredParameters = nil
	}
	if len(d.Dependencies) == 0 {
		d.Dependencies = nil
	}
	normalized, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignDescriptor computes an HMAC signature over the descriptor checksum.
func SignDescriptor(d Descriptor, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(d)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature reports whether signature matches the descriptor under secret.
// An empty secret disables verification.
func VerifySignature(d Descriptor, signature, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignDescriptor(d, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
