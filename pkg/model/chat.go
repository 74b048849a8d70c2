package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const ChatMaxBodyLength = 500

var ErrChatBodyTooLong = fmt.Errorf("chat body exceeds %d characters", ChatMaxBodyLength)
var ErrChatBodyEmpty = errors.New("chat body cannot be empty")

// ChatLine is one relayed chat message as kept by the chat journal.
// RoomID is empty for global chat.
type ChatLine struct {
	ID         int64     `json:"id" yaml:"id"`
	RoomID     string    `json:"room_id" yaml:"room_id,omitempty"`
	SenderID   string    `json:"sender_id" yaml:"sender_id"`
	SenderName string    `json:"sender_name" yaml:"sender_name"`
	Body       string    `json:"body" yaml:"body"`
	SentAt     time.Time `json:"sent_at" yaml:"sent_at"`
}

func (c *ChatLine) Validate() error {
	if strings.TrimSpace(c.Body) == "" {
		return ErrChatBodyEmpty
	} else if utf8.RuneCountInString(c.Body) > ChatMaxBodyLength {
		return ErrChatBodyTooLong
	}

	return nil
}

// ChatFilters narrows a journal query. Nil fields are unrestricted.
type ChatFilters struct {
	LimitToRoomID   *string
	LimitToSenderID *string
	PageSize        *int64
	Offset          *int64
}
