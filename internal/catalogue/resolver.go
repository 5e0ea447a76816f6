// Package catalogue resolves a source into its catalogue of encoded variants.
package catalogue

import (
	"context"
	"errors"

	"hls-player/internal/media"
)

//go:generate mockgen -source=resolver.go -destination=mocks/mock_resolver.go -package=mocks

// Resolver looks up the variants available for a source.
type Resolver interface {
	// Resolve returns the catalogue for source. Failures wrap ErrNotFound
	// or ErrNetwork.
	Resolve(ctx context.Context, source media.SourceID) (*media.Catalogue, error)
}

var (
	// ErrNotFound is returned when the catalogue service does not know the source.
	ErrNotFound = errors.New("catalogue: source not found")

	// ErrNetwork is returned when the catalogue service could not be reached
	// or answered with a server error.
	ErrNetwork = errors.New("catalogue: network error")

	// ErrInvalidPlaylist is returned when a master playlist cannot be parsed.
	ErrInvalidPlaylist = errors.New("catalogue: invalid master playlist")
)

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, source media.SourceID) (*media.Catalogue, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, source media.SourceID) (*media.Catalogue, error) {
	return f(ctx, source)
}
