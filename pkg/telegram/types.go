package telegram

import "strings"

// Update is an incoming webhook payload. Only the fields the bot uses are
// decoded.
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
}

// EffectiveMessage returns the new or edited message carried by u, or nil.
func (u Update) EffectiveMessage() *Message {
	if u.Message != nil {
		return u.Message
	}
	return u.EditedMessage
}

// Message is a chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Command returns the bot command at the start of the text without the
// leading slash or @botname suffix, or "" when the text is not a command.
func (m *Message) Command() string {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}

// Chat identifies a conversation.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// User is a message author.
type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

// BotCommand is one entry of the bot's command menu.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// WebhookConfig registers the webhook endpoint.
type WebhookConfig struct {
	URL                string `json:"url"`
	SecretToken        string `json:"secret_token,omitempty"`
	DropPendingUpdates bool   `json:"drop_pending_updates,omitempty"`
}

// Chat actions.
const (
	ActionTyping = "typing"
)

// SecretHeader carries the webhook secret on incoming updates.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"
