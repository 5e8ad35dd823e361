package objectstore

import "context"

// NonDestructive adapts any Provider into a Store that refuses delete
// outright, regardless of what the underlying provider can actually do.
// This is the wrapper described in spec.md §4.1: "Wraps untrusted providers
// in a non-destructive adapter that asserts supports_delete == false before
// it is used as a backing store." Rather than trusting the provider's
// SupportsDelete() to already be false, the adapter enforces it itself so a
// provider that happens to support deletion (e.g. the local filesystem
// provider, useful in dev/test) can still be used safely as a backing
// store for the caching composite.
type NonDestructive struct {
	provider Provider
}

// NewNonDestructive wraps provider so Delete always fails with
// ErrDeleteUnsupported and SupportsDelete always reports false.
func NewNonDestructive(provider Provider) *NonDestructive {
	return &NonDestructive{provider: provider}
}

func (n *NonDestructive) PutIfAbsent(ctx context.Context, path string, data []byte) error {
	return n.provider.PutIfAbsent(ctx, path, data)
}

func (n *NonDestructive) Put(ctx context.Context, path string, data []byte) error {
	return n.provider.Put(ctx, path, data)
}

func (n *NonDestructive) CompareAndSwap(ctx context.Context, path string, expectedHash Hash, data []byte) (Hash, error) {
	return n.provider.CompareAndSwap(ctx, path, expectedHash, data)
}

func (n *NonDestructive) Get(ctx context.Context, path string) ([]byte, error) {
	return n.provider.Get(ctx, path)
}

func (n *NonDestructive) GetRanges(ctx context.Context, path string, ranges []Range) ([][]byte, error) {
	out := make([][]byte, len(ranges))
	for i, r := range ranges {
		b, err := n.provider.GetRange(ctx, path, r)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (n *NonDestructive) Head(ctx context.Context, path string) (Head, error) {
	return n.provider.Head(ctx, path)
}

func (n *NonDestructive) List(ctx context.Context, prefix string) ([]string, error) {
	return n.provider.List(ctx, prefix)
}

func (n *NonDestructive) Copy(ctx context.Context, from, to string) error {
	return n.provider.Copy(ctx, from, to)
}

// Delete always fails: a NonDestructive store never performs destructive
// overwrite or removal, no matter what the wrapped provider supports.
func (n *NonDestructive) Delete(ctx context.Context, path string) error {
	return ErrDeleteUnsupported
}

// SupportsDelete always reports false for a NonDestructive store.
func (n *NonDestructive) SupportsDelete() bool {
	return false
}

var _ Store = (*NonDestructive)(nil)
