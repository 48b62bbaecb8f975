package security

import (
	"encoding/json"
	"fmt"
)

type ValidationConfig struct {
	MaxMessageSize int
	// AllowedTypes empty means any message type is accepted
	AllowedTypes   map[string]bool
	RequiredFields map[string][]string
	TypeField      string
}

// DefaultValidationConfig accepts the message types the bot ever requests or
// subscribes to.
func DefaultValidationConfig(maxMessageSize int) ValidationConfig {
	return ValidationConfig{
		MaxMessageSize: maxMessageSize,
		TypeField:      "msg_type",
		AllowedTypes: map[string]bool{
			"get_session_token":      true,
			"authorize":              true,
			"balance":                true,
			"transaction":            true,
			"proposal_open_contract": true,
			"active_symbols":         true,
			"trading_times":          true,
			"time":                   true,
			"forget":                 true,
			"forget_all":             true,
			"logout":                 true,
			"ping":                   true,
			"website_status":         true,
		},
		RequiredFields: map[string][]string{
			"balance": {"balance"},
		},
	}
}

type messageValidator struct {
	config ValidationConfig
}

func NewMessageValidator(config ValidationConfig) MessageValidator {
	if config.TypeField == "" {
		config.TypeField = "msg_type"
	}
	return &messageValidator{config: config}
}

func (mv *messageValidator) ValidateMessage(message []byte) error {
	if mv.config.MaxMessageSize > 0 && len(message) > mv.config.MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max: %d)",
			len(message), mv.config.MaxMessageSize)
	}

	var baseMsg map[string]json.RawMessage
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	var msgType string
	if raw, ok := baseMsg[mv.config.TypeField]; ok {
		_ = json.Unmarshal(raw, &msgType)
	}
	if msgType == "" {
		return fmt.Errorf("missing or invalid message %s field", mv.config.TypeField)
	}

	if len(mv.config.AllowedTypes) > 0 && !mv.config.AllowedTypes[msgType] {
		return fmt.Errorf("invalid message type: %s", msgType)
	}

	// error responses carry no payload field
	if _, failed := baseMsg["error"]; failed {
		return nil
	}

	for _, field := range mv.config.RequiredFields[msgType] {
		if _, exists := baseMsg[field]; !exists {
			return fmt.Errorf("missing required field '%s' for type '%s'", field, msgType)
		}
	}

	return nil
}
