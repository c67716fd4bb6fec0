package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// isGroupChat reports whether a chat identifier belongs to a group.
func isGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@"+types.GroupServer)
}

// isBroadcastChat reports status updates and broadcast lists.
func isBroadcastChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@"+types.BroadcastServer)
}

// normalizeToJID converts a phone number or JID string to types.JID
func normalizeToJID(input string) (types.JID, error) {
	input = strings.TrimSpace(input)

	// If it's already a JID (contains @), parse it directly
	if strings.Contains(input, "@") {
		jid, err := types.ParseJID(input)
		if err != nil {
			return types.JID{}, err
		}
		// Legacy web clients address users as <phone>@c.us
		if jid.Server == types.LegacyUserServer {
			jid.Server = types.DefaultUserServer
		}
		return jid, nil
	}

	// Otherwise, treat as phone number and create user JID
	// Remove any non-digit characters
	phone := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, input)

	if phone == "" {
		return types.JID{}, fmt.Errorf("invalid phone number: %s", input)
	}

	return types.NewJID(phone, types.DefaultUserServer), nil
}
