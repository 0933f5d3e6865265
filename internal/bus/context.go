package bus

import "sync"

// Context is the value bag shared by every handler of one emission, and by
// every emission made with the same carrier.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Carrier is an object that owns a Context for its whole lifetime. Emitting
// with the same carrier twice hands handlers the same Context.
type Carrier interface {
	EventContext() *Context
}

// Store is an embeddable Carrier implementation. Its Context is created on
// first use.
type Store struct {
	once sync.Once
	ctx  *Context
}

func (s *Store) EventContext() *Context {
	s.once.Do(func() {
		s.ctx = NewContext()
	})
	return s.ctx
}

// resolveContext returns the Context for carrier: the carrier itself when it
// is a *Context, its owned Context when it is a Carrier, otherwise a fresh one.
func resolveContext(carrier any) *Context {
	switch c := carrier.(type) {
	case *Context:
		if c != nil {
			return c
		}
	case Carrier:
		if ctx := c.EventContext(); ctx != nil {
			return ctx
		}
	}

	return NewContext()
}
