package world

import "sync"

// DragState tracks which bodies are held by an operator.
type DragState struct {
	mu   sync.RWMutex
	held map[string]bool
}

func NewDragState() *DragState {
	return &DragState{held: make(map[string]bool)}
}

// Hold marks id as under manual control.
func (d *DragState) Hold(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held[id] = true
}

// Release returns id to its own control.
func (d *DragState) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.held, id)
}

func (d *DragState) IsHeld(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.held[id]
}

// For returns a view of the registry bound to one body.
func (d *DragState) For(id string) Handle {
	return Handle{state: d, id: id}
}

// Handle answers manual-control queries for a single body.
type Handle struct {
	state *DragState
	id    string
}

func (h Handle) IsUnderManualControl() bool {
	return h.state.IsHeld(h.id)
}
