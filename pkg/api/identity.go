package api

import "strings"

// IdentityAliases collects every representation the backend may use for a
// user in a message's sender field. Depending on the endpoint the sender
// arrives as an email, a username, a display name, or an id.
func IdentityAliases(user User) map[string]struct{} {
	aliases := make(map[string]struct{}, 4)
	for _, a := range []string{user.Id, user.Email, user.Username, user.Name} {
		if a = strings.TrimSpace(a); a != "" {
			aliases[strings.ToLower(a)] = struct{}{}
		}
	}
	return aliases
}

// IsOwnMessage reports whether the message was sent by the user holding
// the given alias set.
func IsOwnMessage(msg Message, aliases map[string]struct{}) bool {
	sender := strings.ToLower(strings.TrimSpace(msg.Sender))
	if sender == "" {
		return false
	}
	_, ok := aliases[sender]
	return ok
}
