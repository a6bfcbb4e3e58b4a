package api

import (
	"time"
)

type ConversationKind string

const (
	KindGroup  ConversationKind = "group"
	KindDirect ConversationKind = "direct"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeFile     MessageType = "file"
	TypeVoice    MessageType = "voice"
	TypeLocation MessageType = "location"
)

type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

type LastMessage struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	Id           string           `json:"id"`
	Name         string           `json:"name"`
	Kind         ConversationKind `json:"type"`
	Description  string           `json:"description,omitempty"`
	Participants []string         `json:"participants"`
	LastMessage  *LastMessage     `json:"lastMessage,omitempty"`
	LastActivity time.Time        `json:"lastActivity"`
	CanJoin      bool             `json:"canJoin"`
	UnreadCount  int              `json:"unreadCount,omitempty"`
	CreatedBy    string           `json:"createdBy,omitempty"`
}

type Message struct {
	Id             string              `json:"id"`
	ConversationId string              `json:"chatId"`
	Sender         string              `json:"sender"`
	Content        string              `json:"content"`
	Type           MessageType         `json:"messageType"`
	Timestamp      time.Time           `json:"timestamp"`
	Status         DeliveryStatus      `json:"status"`
	Edited         bool                `json:"edited,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
	ReplyTo        string              `json:"replyTo,omitempty"`
}

type NewConversation struct {
	Name         string           `json:"name"`
	Kind         ConversationKind `json:"type"`
	Participants []string         `json:"participants,omitempty"`
	Description  string           `json:"description,omitempty"`
}

type User struct {
	Id       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	UserType string `json:"userType,omitempty"`
	IsAdmin  bool   `json:"isAdmin,omitempty"`
}

// Summary is the denormalized last-message view a conversation carries for
// list display.
func (m Message) Summary() LastMessage {
	return LastMessage{
		Content:   m.Content,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
	}
}

// Privileged reports whether the user holds the privileged (admin) role.
// The backend is inconsistent about where it records this, so every known
// representation is checked.
func (u User) Privileged() bool {
	return u.Role == "admin" || u.UserType == "admin" || u.IsAdmin
}
