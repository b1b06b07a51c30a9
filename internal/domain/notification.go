package domain

import "time"

// Color tags understood by the chat bridge
const (
	ColorGreen  = "green"
	ColorGrey   = "grey"
	ColorRed    = "red"
	ColorOrange = "orange"
	ColorBlue   = "blue"
	ColorPurple = "purple"
	ColorYellow = "yellow"
	ColorTeal   = "teal"
)

// Notification is a fully formed message handed to a notification sink
type Notification struct {
	ServerID    string    `json:"server_id"`
	Channel     string    `json:"channel"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	Fields      []Field   `json:"fields,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Field is one name/value pair rendered inside a notification
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// StreamMessage is the envelope pushed to WebSocket clients
type StreamMessage struct {
	Type      string      `json:"event"`
	ServerID  string      `json:"server_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}
