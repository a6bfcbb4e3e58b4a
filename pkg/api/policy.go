package api

import "strings"

// PolicyMode selects how the chat directory filters the conversation list.
// The backend went back and forth on whether direct messages are open to
// everyone or restricted to participants, so the choice is configuration,
// not code forks.
type PolicyMode string

const (
	// PolicyOpen shows every conversation to every authenticated user.
	PolicyOpen PolicyMode = "open"
	// PolicyRestricted shows non-privileged users the group conversations
	// plus a single direct conversation with the privileged role.
	PolicyRestricted PolicyMode = "restricted"
)

// PendingAdminDM is the placeholder id used when a restricted-mode user has
// no direct conversation with the privileged role yet. Selecting it goes
// through Directory.Materialize, which creates the real conversation first.
const PendingAdminDM = "pending-admin-dm"

// ApplyVisibilityPolicy returns the subset of conversations the user may
// see. It is pure: the input slice and its entries are never mutated, and
// the result is deterministic for the same input. Order of surviving
// entries matches the input order.
func ApplyVisibilityPolicy(conversations []Conversation, user User, mode PolicyMode) []Conversation {
	if mode != PolicyRestricted {
		out := make([]Conversation, 0, len(conversations))
		for _, c := range conversations {
			c.CanJoin = true
			out = append(out, c)
		}
		return out
	}

	if user.Privileged() {
		out := make([]Conversation, 0, len(conversations))
		for _, c := range conversations {
			c.CanJoin = true
			out = append(out, c)
		}
		return out
	}

	out := make([]Conversation, 0, len(conversations))
	haveDM := false
	for _, c := range conversations {
		switch {
		case isShared(c):
			c.CanJoin = true
			out = append(out, c)
		case c.Kind == KindDirect && !haveDM && isParticipant(c, user):
			// Exactly one direct conversation with the privileged role.
			c.CanJoin = false
			out = append(out, c)
			haveDM = true
		}
	}
	if !haveDM {
		out = append(out, Conversation{
			Id:           PendingAdminDM,
			Name:         "Admin",
			Kind:         KindDirect,
			Participants: []string{user.Id},
		})
	}
	return out
}

// isShared marks a conversation as group-visible. Kind is authoritative
// when present; records predating the kind field fall back to name
// heuristics used by the backend's bulk-create presets.
func isShared(c Conversation) bool {
	if c.Kind == KindGroup {
		return true
	}
	if c.Kind == KindDirect {
		return false
	}
	name := strings.ToLower(c.Name)
	return strings.Contains(name, "group") || strings.Contains(name, "chat") || len(c.Participants) > 2
}

func isParticipant(c Conversation, user User) bool {
	aliases := IdentityAliases(user)
	for _, p := range c.Participants {
		if _, ok := aliases[strings.ToLower(p)]; ok {
			return true
		}
	}
	return false
}
