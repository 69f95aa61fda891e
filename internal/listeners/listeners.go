// Package listeners tracks the observers that receive aggregate view
// updates. Listeners are registered per user and scoped to that user's
// profile group for delivery.
package listeners

import (
	"github.com/safetyhub/safetyhub-server/internal/aggregator"
	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

// Listener receives aggregate view updates or error notices. At least one of
// view and errNotice is non-nil on every delivery. Implementations must be
// comparable (pointer types) and must return quickly: delivery happens on
// the coordinator's call path.
type Listener interface {
	OnUpdate(view *aggregator.AggregateView, errNotice *report.ErrorNotice)
}

// Registry tracks registered listeners. It is not safe for concurrent use;
// the coordinator's lock guards it.
type Registry struct {
	byUser map[string]map[Listener]struct{}
}

// NewRegistry creates an empty listener registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[Listener]struct{})}
}

// AddListener registers the listener under the given user. It returns false
// if the listener is already registered for that user.
func (r *Registry) AddListener(l Listener, userID string) bool {
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[Listener]struct{})
		r.byUser[userID] = set
	}
	if _, exists := set[l]; exists {
		return false
	}
	set[l] = struct{}{}
	return true
}

// RemoveListener deregisters the listener from the given user. Removing a
// listener that is not registered is a no-op.
func (r *Registry) RemoveListener(l Listener, userID string) {
	set, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// HasListenersForUserProfileGroup reports whether any listener is registered
// under any user of the group.
func (r *Registry) HasListenersForUserProfileGroup(group usergroups.UserProfileGroup) bool {
	for _, userID := range group.AllUserIDs() {
		if len(r.byUser[userID]) > 0 {
			return true
		}
	}
	return false
}

// DeliverUpdateForUserProfileGroup delivers (view, errNotice) to every
// listener registered under any user of the group. A listener registered
// under several users of the group still receives exactly one call.
func (r *Registry) DeliverUpdateForUserProfileGroup(
	group usergroups.UserProfileGroup,
	view *aggregator.AggregateView,
	errNotice *report.ErrorNotice,
) {
	delivered := make(map[Listener]struct{})
	for _, userID := range group.AllUserIDs() {
		for l := range r.byUser[userID] {
			if _, done := delivered[l]; done {
				continue
			}
			delivered[l] = struct{}{}
			l.OnUpdate(view, errNotice)
		}
	}
}

// Clear removes every registered listener.
func (r *Registry) Clear() {
	r.byUser = make(map[string]map[Listener]struct{})
}
