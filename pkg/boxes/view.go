package boxes

import (
	"context"
	"fmt"
	"sync"
)

// ViewState is the selection state of a View.
type ViewState int

const (
	ViewUnloaded ViewState = iota
	ViewLoaded
	ViewSelected
)

func (s ViewState) String() string {
	switch s {
	case ViewUnloaded:
		return "unloaded"
	case ViewLoaded:
		return "loaded"
	case ViewSelected:
		return "selected"
	default:
		return "unknown"
	}
}

// Lister is the part of the Registry a View needs.
type Lister interface {
	List(ctx context.Context) ([]Box, error)
}

// View holds the boxes shown on screen and at most one selected box.
// Nothing in it is persisted.
type View struct {
	source Lister

	mu       sync.RWMutex
	loaded   bool
	boxes    []Box
	selected *Box
}

// NewView creates an unloaded view over source.
func NewView(source Lister) *View {
	return &View{source: source}
}

// Load (re)reads the boxes. A selection survives if its box still exists.
// On error the view keeps its previous contents.
func (v *View) Load(ctx context.Context) error {
	boxes, err := v.source.List(ctx)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.loaded = true
	v.boxes = boxes
	if v.selected != nil {
		v.selected = find(boxes, v.selected.ID)
	}
	return nil
}

// State reports where the view is in its lifecycle.
func (v *View) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()

	switch {
	case v.selected != nil:
		return ViewSelected
	case v.loaded:
		return ViewLoaded
	default:
		return ViewUnloaded
	}
}

// Boxes returns a copy of the loaded boxes.
func (v *View) Boxes() []Box {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Box, len(v.boxes))
	copy(out, v.boxes)
	return out
}

// Select marks the box with the given id as selected. An unknown id
// returns ErrNotFound and leaves the previous selection in place.
func (v *View) Select(id string) (Box, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	box := find(v.boxes, id)
	if box == nil {
		return Box{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v.selected = box
	return *box, nil
}

// Selected returns the selected box, if any.
func (v *View) Selected() (Box, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.selected == nil {
		return Box{}, false
	}
	return *v.selected, true
}

// Clear drops the selection.
func (v *View) Clear() {
	v.mu.Lock()
	v.selected = nil
	v.mu.Unlock()
}

func find(boxes []Box, id string) *Box {
	for i := range boxes {
		if boxes[i].ID == id {
			b := boxes[i]
			return &b
		}
	}
	return nil
}
