package observe

import (
	"maps"
	"time"
)

// DefaultMaxBreadcrumbs is the per-scope breadcrumb cap when Options leaves it unset.
const DefaultMaxBreadcrumbs = 100

// Breadcrumb is a timestamped trail entry recorded ahead of an event.
type Breadcrumb struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type,omitempty"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message,omitempty"`
	Level     Level          `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

func (b Breadcrumb) copy() Breadcrumb {
	if b.Data != nil {
		b.Data = maps.Clone(b.Data)
	}
	return b
}

// breadcrumbRing holds at most cap breadcrumbs and evicts the oldest first.
type breadcrumbRing struct {
	buf   []Breadcrumb
	start int
	count int
}

func newBreadcrumbRing(capacity int) *breadcrumbRing {
	if capacity < 0 {
		capacity = 0
	}
	return &breadcrumbRing{buf: make([]Breadcrumb, capacity)}
}

func (r *breadcrumbRing) capacity() int { return len(r.buf) }

func (r *breadcrumbRing) len() int { return r.count }

func (r *breadcrumbRing) push(b Breadcrumb) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = b
		r.count++
		return
	}
	r.buf[r.start] = b
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the retained breadcrumbs oldest first.
func (r *breadcrumbRing) items() []Breadcrumb {
	if r.count == 0 {
		return nil
	}
	out := make([]Breadcrumb, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)].copy()
	}
	return out
}

func (r *breadcrumbRing) clear() {
	clear(r.buf)
	r.start = 0
	r.count = 0
}

func (r *breadcrumbRing) clone() *breadcrumbRing {
	c := &breadcrumbRing{buf: make([]Breadcrumb, len(r.buf)), start: r.start, count: r.count}
	copy(c.buf, r.buf)
	return c
}
