package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/climate-cache/internal/climate"
)

// MessageType represents the type of message
type MessageType string

const (
	// Producers to the refresher
	MsgTypeBatchRequest MessageType = "batch_request"

	// Refresher to subscribers
	MsgTypeBatchCompleted MessageType = "batch_completed"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// BatchRequestMessage asks the refresher to run one batch over Lats × Lons.
// Dates are YYYY-MM-DD.
type BatchRequestMessage struct {
	Type        MessageType `json:"type"`
	RequestID   string      `json:"request_id"`
	Lats        []float64   `json:"lats"`
	Lons        []float64   `json:"lons"`
	DateStart   string      `json:"date_start"`
	DateEnd     string      `json:"date_end"`
	ForceUpdate bool        `json:"force_update"`
	RequestedAt time.Time   `json:"requested_at"`
}

// Dates parses the request's date range.
func (m *BatchRequestMessage) Dates() (time.Time, time.Time, error) {
	start, err := climate.ParseDate(m.DateStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := climate.ParseDate(m.DateEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// BatchCompletedEvent is published once a batch has committed.
type BatchCompletedEvent struct {
	Type       MessageType `json:"type"`
	BatchID    string      `json:"batch_id"`
	RequestID  string      `json:"request_id,omitempty"`
	Cells      int         `json:"cells"`
	Skipped    int         `json:"skipped"`
	Fetched    int         `json:"fetched"`
	Rows       int64       `json:"rows"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// ParseMessage parses a Kafka value into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeBatchRequest:
		msg, err := DecodeBatchRequest(data)
		if err != nil {
			return nil, err
		}
		return msg, nil

	case MsgTypeBatchCompleted:
		var msg BatchCompletedEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid batch completed event: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

// validateBatchRequest validates a batch request message
func validateBatchRequest(msg *BatchRequestMessage) error {
	if len(msg.Lats) == 0 || len(msg.Lons) == 0 {
		return fmt.Errorf("lats and lons are required")
	}
	if msg.DateStart == "" || msg.DateEnd == "" {
		return fmt.Errorf("date_start and date_end are required")
	}
	if _, _, err := msg.Dates(); err != nil {
		return err
	}
	return nil
}

// EncodeBatchRequest encodes a BatchRequestMessage to JSON
func EncodeBatchRequest(msg *BatchRequestMessage) ([]byte, error) {
	msg.Type = MsgTypeBatchRequest
	return json.Marshal(msg)
}

// DecodeBatchRequest decodes and validates a BatchRequestMessage
func DecodeBatchRequest(data []byte) (*BatchRequestMessage, error) {
	var msg BatchRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid batch request: %w", err)
	}
	if msg.Type != MsgTypeBatchRequest {
		return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
	}
	if err := validateBatchRequest(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeBatchCompleted encodes a BatchCompletedEvent to JSON
func EncodeBatchCompleted(event *BatchCompletedEvent) ([]byte, error) {
	event.Type = MsgTypeBatchCompleted
	return json.Marshal(event)
}
