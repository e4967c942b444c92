package reconciler

import "sync"

// Guard is a per-devbench non-blocking mutex. Holders of different ids never
// contend.
type Guard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{held: make(map[string]struct{})}
}

// TryLock claims id. It returns false when another operation holds it.
func (g *Guard) TryLock(id string) (unlock func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[id]; busy {
		return nil, false
	}
	g.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, id)
			g.mu.Unlock()
		})
	}, true
}

// Held reports whether id is currently locked.
func (g *Guard) Held(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[id]
	return ok
}
