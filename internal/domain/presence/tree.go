package presence

import "context"

// Tree is the server-side key-value tree behind the presence channel. Values
// are raw JSON documents; nil means "no value".
type Tree interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Set(ctx context.Context, path string, value []byte) error
	// Watch delivers the current value first and then every later write, in
	// order. fn must not block and must not call back into the tree.
	Watch(ctx context.Context, path string, fn func(value []byte)) (cancel func(), err error)
	Close() error
}
