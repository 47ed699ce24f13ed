package participant

import (
	"sync"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Participant is a remote member of the room.
type Participant struct {
	ID          string
	DisplayName string
	AudioOn     bool
	VideoOn     bool
}

// FromWire converts a roster entry from an authentication reply.
func FromWire(p signaling.Participant) Participant {
	return Participant{
		ID:          p.UserID,
		DisplayName: p.Username,
		AudioOn:     p.AudioOn,
		VideoOn:     p.VideoOn,
	}
}

// Directory is the roster of known participants in arrival order.
// Every operation is total: unknown ids and duplicate inserts are no-ops.
type Directory struct {
	mu        sync.Mutex
	order     []string
	byID      map[string]*Participant
	listeners []func([]Participant)
}

func NewDirectory() *Directory {
	return &Directory{byID: make(map[string]*Participant)}
}

// OnChange registers fn to receive a snapshot after every change.
func (d *Directory) OnChange(fn func([]Participant)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Add inserts p unless a participant with the same id is already known.
// It reports whether p was inserted.
func (d *Directory) Add(p Participant) bool {
	d.mu.Lock()
	if _, ok := d.byID[p.ID]; ok {
		d.mu.Unlock()
		return false
	}
	cp := p
	d.byID[p.ID] = &cp
	d.order = append(d.order, p.ID)
	d.notifyLocked()
	return true
}

// Remove deletes the participant with id if present.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	if _, ok := d.byID[id]; !ok {
		d.mu.Unlock()
		return false
	}
	delete(d.byID, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.notifyLocked()
	return true
}

// UpdateStatus sets the audio or video flag of id.
func (d *Directory) UpdateStatus(id string, media signaling.Media, on bool) bool {
	d.mu.Lock()
	p, ok := d.byID[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	switch media {
	case signaling.MediaVideo:
		if p.VideoOn == on {
			d.mu.Unlock()
			return false
		}
		p.VideoOn = on
	case signaling.MediaAudio:
		if p.AudioOn == on {
			d.mu.Unlock()
			return false
		}
		p.AudioOn = on
	default:
		d.mu.Unlock()
		return false
	}
	d.notifyLocked()
	return true
}

// Clear empties the directory.
func (d *Directory) Clear() {
	d.mu.Lock()
	if len(d.order) == 0 {
		d.mu.Unlock()
		return
	}
	d.order = nil
	d.byID = make(map[string]*Participant)
	d.notifyLocked()
}

func (d *Directory) Get(id string) (Participant, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byID[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// List returns a snapshot in arrival order.
func (d *Directory) List() []Participant {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

func (d *Directory) snapshotLocked() []Participant {
	out := make([]Participant, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.byID[id])
	}
	return out
}

// notifyLocked releases d.mu before calling listeners.
func (d *Directory) notifyLocked() {
	snap := d.snapshotLocked()
	listeners := append([]func([]Participant){}, d.listeners...)
	d.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
