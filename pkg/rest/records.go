package rest

import (
	"encoding/json"
	"time"

	"festchat/pkg/api"
)

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// creator tolerates the backend sending createdBy either as a bare string
// or as an embedded user object.
type creator struct {
	value string
}

func (c *creator) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		c.value = s
		return nil
	}
	var obj struct {
		Id    string `json:"_id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	switch {
	case obj.Email != "":
		c.value = obj.Email
	case obj.Name != "":
		c.value = obj.Name
	default:
		c.value = obj.Id
	}
	return nil
}

type lastMessageRecord struct {
	Content   string     `json:"content"`
	Sender    string     `json:"sender"`
	Timestamp *time.Time `json:"timestamp"`
}

// conversationRecord is the wire shape of a conversation. Mongo-era
// records use _id; newer ones carry id.
type conversationRecord struct {
	MongoId      string             `json:"_id"`
	Id           string             `json:"id"`
	Name         string             `json:"name"`
	Type         string             `json:"type"`
	Description  string             `json:"description"`
	Participants []string           `json:"participants"`
	LastMessage  *lastMessageRecord `json:"lastMessage"`
	UpdatedAt    *time.Time         `json:"updatedAt"`
	UnreadCount  int                `json:"unreadCount"`
	CreatedBy    creator            `json:"createdBy"`
}

type messageRecord struct {
	MongoId   string              `json:"_id"`
	Id        string              `json:"id"`
	ChatId    string              `json:"chatId"`
	Sender    string              `json:"sender"`
	Content   string              `json:"content"`
	Type      string              `json:"messageType"`
	AltType   string              `json:"type"`
	Timestamp *time.Time          `json:"timestamp"`
	CreatedAt *time.Time          `json:"createdAt"`
	Status    string              `json:"status"`
	Edited    bool                `json:"edited"`
	Reactions map[string][]string `json:"reactions"`
	ReplyTo   string              `json:"replyTo"`
}

func (r conversationRecord) normalize(now time.Time) api.Conversation {
	id := r.MongoId
	if id == "" {
		id = r.Id
	}
	participants := r.Participants
	if participants == nil {
		participants = []string{}
	}

	var last *api.LastMessage
	lastActivity := now
	if r.LastMessage != nil {
		last = &api.LastMessage{
			Content: r.LastMessage.Content,
			Sender:  r.LastMessage.Sender,
		}
		if r.LastMessage.Timestamp != nil {
			last.Timestamp = *r.LastMessage.Timestamp
			lastActivity = *r.LastMessage.Timestamp
		}
	} else if r.UpdatedAt != nil {
		lastActivity = *r.UpdatedAt
	}

	return api.Conversation{
		Id:           id,
		Name:         r.Name,
		Kind:         api.ConversationKind(r.Type),
		Description:  r.Description,
		Participants: participants,
		LastMessage:  last,
		LastActivity: lastActivity,
		UnreadCount:  r.UnreadCount,
		CreatedBy:    r.CreatedBy.value,
	}
}

func (r messageRecord) normalize(conversationId string, now time.Time) api.Message {
	id := r.MongoId
	if id == "" {
		id = r.Id
	}
	if conversationId == "" {
		conversationId = r.ChatId
	}
	sender := r.Sender
	if sender == "" {
		sender = "Unknown"
	}
	typ := r.Type
	if typ == "" {
		typ = r.AltType
	}
	if typ == "" {
		typ = string(api.TypeText)
	}
	status := r.Status
	if status == "" {
		status = string(api.StatusSent)
	}
	timestamp := now
	if r.Timestamp != nil {
		timestamp = *r.Timestamp
	} else if r.CreatedAt != nil {
		timestamp = *r.CreatedAt
	}

	return api.Message{
		Id:             id,
		ConversationId: conversationId,
		Sender:         sender,
		Content:        r.Content,
		Type:           api.MessageType(typ),
		Timestamp:      timestamp,
		Status:         api.DeliveryStatus(status),
		Edited:         r.Edited,
		Reactions:      r.Reactions,
		ReplyTo:        r.ReplyTo,
	}
}
