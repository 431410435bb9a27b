// Package mock provides a scriptable embeddings.Provider test double.
package mock

import (
	"context"

	"github.com/sefton37/kelloggchat/pkg/provider/embeddings"
)

// Compile-time assertion that Provider satisfies the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider returns vectors from a fixed lookup, falling back to Default.
type Provider struct {
	// Vectors maps input text to the vector to return.
	Vectors map[string][]float32

	// Default is returned for texts not present in Vectors.
	Default []float32

	// Err, when non-nil, is returned by every Embed call.
	Err error
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if v, ok := p.Vectors[text]; ok {
		return v, nil
	}
	return p.Default, nil
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return "mock-embed"
}
