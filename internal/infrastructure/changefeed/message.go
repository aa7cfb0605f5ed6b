package changefeed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the payload relayed between instances
type Message struct {
	Path      string `json:"path"`
	Origin    string `json:"origin"`
	Timestamp int64  `json:"timestamp"`
}

func encodeMessage(path, origin string) (string, error) {
	data, err := json.Marshal(Message{Path: path, Origin: origin, Timestamp: time.Now().UnixNano()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal change message: %w", err)
	}
	return string(data), nil
}

func decodeMessage(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal change message: %w", err)
	}
	return msg, nil
}
