// Package usergroups resolves user ids to their user profile group: the
// primary user plus its linked managed profiles. The group is the scoping
// boundary for refresh episodes, issue operations, and listeners.
package usergroups

import (
	"errors"
	"fmt"
)

// ErrUnknownUser is returned when a user id is not part of any configured
// profile group.
var ErrUnknownUser = errors.New("unknown user")

// UserProfileGroup is a primary user and its linked managed profiles.
type UserProfileGroup struct {
	PrimaryUserID         string
	ManagedProfileUserIDs []string
}

// Contains reports whether the user belongs to this group.
func (g UserProfileGroup) Contains(userID string) bool {
	if userID == g.PrimaryUserID {
		return true
	}
	for _, p := range g.ManagedProfileUserIDs {
		if p == userID {
			return true
		}
	}
	return false
}

// AllUserIDs returns the primary user followed by the managed profiles, in
// configuration order. The ordering is relied on for deterministic views.
func (g UserProfileGroup) AllUserIDs() []string {
	ids := make([]string, 0, len(g.ManagedProfileUserIDs)+1)
	ids = append(ids, g.PrimaryUserID)
	ids = append(ids, g.ManagedProfileUserIDs...)
	return ids
}

func (g UserProfileGroup) String() string {
	return fmt.Sprintf("group(%s)", g.PrimaryUserID)
}

// Resolver maps any user id (primary or profile) to its group. Membership is
// computed once per request and threaded through subsequent operations.
type Resolver struct {
	byUser map[string]UserProfileGroup
}

// NewResolver builds a resolver from primary-user -> managed-profiles pairs.
// Profile ids must not collide with primary ids or with each other.
func NewResolver(groups map[string][]string) (*Resolver, error) {
	byUser := make(map[string]UserProfileGroup, len(groups))
	for primary, profiles := range groups {
		group := UserProfileGroup{
			PrimaryUserID:         primary,
			ManagedProfileUserIDs: profiles,
		}
		for _, id := range group.AllUserIDs() {
			if _, exists := byUser[id]; exists {
				return nil, fmt.Errorf("user %q appears in more than one profile group", id)
			}
			byUser[id] = group
		}
	}
	return &Resolver{byUser: byUser}, nil
}

// GroupOf returns the profile group containing the given user.
func (r *Resolver) GroupOf(userID string) (UserProfileGroup, error) {
	group, ok := r.byUser[userID]
	if !ok {
		return UserProfileGroup{}, fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	return group, nil
}
