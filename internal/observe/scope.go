package observe

import (
	"maps"
	"sync"
)

// User identifies the person behind a unit of work.
type User struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Request describes the inbound HTTP request of a unit of work.
type Request struct {
	Method     string            `json:"method,omitempty"`
	URL        string            `json:"url,omitempty"`
	Query      string            `json:"query_string,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
}

type userState uint8

const (
	userUnset userState = iota
	userSet
	userCleared
)

// Scope is the diagnostic context of one unit of work. It is safe for
// concurrent use; child scopes are independent copies.
type Scope struct {
	mu          sync.RWMutex
	tags        map[string]string
	extra       map[string]any
	user        User
	userState   userState
	request     *Request
	breadcrumbs *breadcrumbRing
	span        *Span
}

// NewScope returns an empty scope retaining up to maxBreadcrumbs breadcrumbs.
func NewScope(maxBreadcrumbs int) *Scope {
	return &Scope{
		tags:        make(map[string]string),
		extra:       make(map[string]any),
		breadcrumbs: newBreadcrumbRing(maxBreadcrumbs),
	}
}

// Clone returns a deep copy. The active span is shared by reference.
func (s *Scope) Clone() *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &Scope{
		tags:        maps.Clone(s.tags),
		extra:       maps.Clone(s.extra),
		user:        s.user,
		userState:   s.userState,
		breadcrumbs: s.breadcrumbs.clone(),
		span:        s.span,
	}
	if s.request != nil {
		r := *s.request
		r.Headers = maps.Clone(s.request.Headers)
		c.request = &r
	}
	return c
}

func (s *Scope) SetTag(key, value string) {
	s.mu.Lock()
	s.tags[key] = value
	s.mu.Unlock()
}

func (s *Scope) SetTags(tags map[string]string) {
	s.mu.Lock()
	maps.Copy(s.tags, tags)
	s.mu.Unlock()
}

func (s *Scope) RemoveTag(key string) {
	s.mu.Lock()
	delete(s.tags, key)
	s.mu.Unlock()
}

func (s *Scope) SetExtra(key string, value any) {
	s.mu.Lock()
	s.extra[key] = value
	s.mu.Unlock()
}

// SetUser records the user identity. A nil user marks the identity as
// explicitly cleared, which also disables default user enrichment.
func (s *Scope) SetUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = User{}
		s.userState = userCleared
		return
	}
	s.user = *u
	s.userState = userSet
}

func (s *Scope) SetRequest(r *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		s.request = nil
		return
	}
	cp := *r
	cp.Headers = maps.Clone(r.Headers)
	s.request = &cp
}

func (s *Scope) AddBreadcrumb(b Breadcrumb) {
	s.mu.Lock()
	s.breadcrumbs.push(b.copy())
	s.mu.Unlock()
}

func (s *Scope) ClearBreadcrumbs() {
	s.mu.Lock()
	s.breadcrumbs.clear()
	s.mu.Unlock()
}

// Tags returns a copy of the scope tags.
func (s *Scope) Tags() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.tags)
}

// Extra returns a copy of the scope extra data.
func (s *Scope) Extra() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.extra)
}

// User returns the identity and whether one is set.
func (s *Scope) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.userState == userSet
}

// Breadcrumbs returns the retained breadcrumbs oldest first.
func (s *Scope) Breadcrumbs() []Breadcrumb {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.breadcrumbs.items()
}

// Span returns the active span, or nil.
func (s *Scope) Span() *Span {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.span
}

func (s *Scope) setSpan(span *Span) {
	s.mu.Lock()
	s.span = span
	s.mu.Unlock()
}

// restoreSpan reinstates prev only while span is still the active one.
func (s *Scope) restoreSpan(span, prev *Span) {
	s.mu.Lock()
	if s.span == span {
		s.span = prev
	}
	s.mu.Unlock()
}

// restoreTree reinstates prev while any span of root's tree is active.
func (s *Scope) restoreTree(root, prev *Span) {
	s.mu.Lock()
	if s.span != nil && s.span.root == root {
		s.span = prev
	}
	s.mu.Unlock()
}

// scopeSnapshot is the frozen view of a Scope copied into an event.
type scopeSnapshot struct {
	tags        map[string]string
	extra       map[string]any
	user        User
	userState   userState
	request     *Request
	breadcrumbs []Breadcrumb
	span        *Span
}

func (s *Scope) snapshot() scopeSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := scopeSnapshot{
		tags:        maps.Clone(s.tags),
		extra:       maps.Clone(s.extra),
		user:        s.user,
		userState:   s.userState,
		breadcrumbs: s.breadcrumbs.items(),
		span:        s.span,
	}
	if s.request != nil {
		r := *s.request
		r.Headers = maps.Clone(s.request.Headers)
		snap.request = &r
	}
	return snap
}
