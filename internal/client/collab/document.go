package collab

import (
	"sync"
	"time"

	"github.com/takato23/sparkrelay/internal/domain/models"
)

const OrderField = "order"

// stamp - порядок записей: время, затем user id
type stamp struct {
	at     time.Time
	userID string
}

func (s stamp) after(other stamp) bool {
	if !s.at.Equal(other.at) {
		return s.at.After(other.at)
	}
	return s.userID > other.userID
}

type fieldValue struct {
	value any
	stamp stamp
}

type target struct {
	fields    map[string]fieldValue
	deleted   bool
	tombstone stamp
}

// Document - локальная копия целей, last write wins по полю
type Document struct {
	mu      sync.RWMutex
	targets map[string]*target
}

func NewDocument() *Document {
	return &Document{targets: make(map[string]*target)}
}

func documentKey(t models.ChangeTarget, id string) string {
	return string(t) + "/" + id
}

// Apply применяет изменение, true если что-то поменялось
func (d *Document) Apply(change models.CollaborationChange) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := documentKey(change.Target, change.TargetID)
	s := stamp{at: change.Timestamp, userID: change.UserID}

	t, ok := d.targets[key]
	if !ok {
		t = &target{fields: make(map[string]fieldValue)}
		d.targets[key] = t
	}
	defer func() {
		if len(t.fields) == 0 && !t.deleted {
			delete(d.targets, key)
		}
	}()

	switch change.Type {
	case models.ChangeDelete:
		if t.deleted && !s.after(t.tombstone) {
			return false
		}
		for _, f := range t.fields {
			if f.stamp.after(s) {
				return false
			}
		}
		t.deleted = true
		t.tombstone = s
		return true

	case models.ChangeReorder:
		v, ok := change.After[OrderField]
		if !ok {
			return false
		}
		return t.write(OrderField, v, s)

	case models.ChangeCreate, models.ChangeUpdate:
		changed := false
		for k, v := range change.After {
			if t.write(k, v, s) {
				changed = true
			}
		}
		return changed

	default:
		return false
	}
}

func (t *target) write(field string, value any, s stamp) bool {
	if t.deleted {
		if !s.after(t.tombstone) {
			return false
		}
		t.deleted = false
	}

	if cur, ok := t.fields[field]; ok && !s.after(cur.stamp) {
		return false
	}
	t.fields[field] = fieldValue{value: value, stamp: s}

	return true
}

// Get возвращает копию полей цели
func (d *Document) Get(t models.ChangeTarget, id string) (map[string]any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tg, ok := d.targets[documentKey(t, id)]
	if !ok || tg.deleted {
		return nil, false
	}

	out := make(map[string]any, len(tg.fields))
	for k, f := range tg.fields {
		out[k] = f.value
	}

	return out, true
}

func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, t := range d.targets {
		if !t.deleted {
			n++
		}
	}
	return n
}

func (d *Document) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.targets = make(map[string]*target)
}
