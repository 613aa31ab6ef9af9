package command

// MetaKey is a typed handle for per-command extension data. Feature plugins
// declare a key once and attach values when a command is registered.
type MetaKey[T any] struct {
	name string
}

func NewMetaKey[T any](name string) MetaKey[T] { return MetaKey[T]{name: name} }

func (k MetaKey[T]) Name() string { return k.name }

// Get returns the value attached to c, if any.
func (k MetaKey[T]) Get(c *Command) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.meta[k.name].(T)
	return v, ok
}

// Set attaches v to c, replacing any previous value.
func (k MetaKey[T]) Set(c *Command, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta == nil {
		c.meta = make(map[string]any)
	}
	c.meta[k.name] = v
}
