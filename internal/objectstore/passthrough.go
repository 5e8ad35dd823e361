package objectstore

import "context"

// Passthrough adapts a Provider directly into a Store, including Delete.
// Unlike NonDestructive, it is meant for backing stores that a higher-level
// component (the WAL's garbage collector) legitimately needs to delete
// from — the non-destructive guarantee in spec.md §4.1 exists specifically
// for the caching composite's backing tier, not for every Store consumer.
type Passthrough struct {
	provider Provider
}

// NewPassthrough wraps provider with no added restrictions.
func NewPassthrough(provider Provider) *Passthrough {
	return &Passthrough{provider: provider}
}

func (p *Passthrough) PutIfAbsent(ctx context.Context, path string, data []byte) error {
	return p.provider.PutIfAbsent(ctx, path, data)
}

func (p *Passthrough) Put(ctx context.Context, path string, data []byte) error {
	return p.provider.Put(ctx, path, data)
}

func (p *Passthrough) CompareAndSwap(ctx context.Context, path string, expectedHash Hash, data []byte) (Hash, error) {
	return p.provider.CompareAndSwap(ctx, path, expectedHash, data)
}

func (p *Passthrough) Get(ctx context.Context, path string) ([]byte, error) {
	return p.provider.Get(ctx, path)
}

func (p *Passthrough) GetRanges(ctx context.Context, path string, ranges []Range) ([][]byte, error) {
	out := make([][]byte, len(ranges))
	for i, r := range ranges {
		b, err := p.provider.GetRange(ctx, path, r)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (p *Passthrough) Head(ctx context.Context, path string) (Head, error) {
	return p.provider.Head(ctx, path)
}

func (p *Passthrough) List(ctx context.Context, prefix string) ([]string, error) {
	return p.provider.List(ctx, prefix)
}

func (p *Passthrough) Copy(ctx context.Context, from, to string) error {
	return p.provider.Copy(ctx, from, to)
}

func (p *Passthrough) Delete(ctx context.Context, path string) error {
	return p.provider.Delete(ctx, path)
}

func (p *Passthrough) SupportsDelete() bool {
	return p.provider.SupportsDelete()
}

var _ Store = (*Passthrough)(nil)
