package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a wire message kind. The set is closed: every
// message entering or leaving the transport is one of the constants below,
// decoded exactly once at the transport boundary.
type EventType string

const (
	EventTypeJoinTable   EventType = "join_table"
	EventTypePlayerMove  EventType = "player_move"
	EventTypeTableUpdate EventType = "table_update"
	EventTypeRoomConfirm EventType = "room_confirm"
	EventTypeGameOver    EventType = "game_over"
	EventTypeBetPlaced   EventType = "bet_placed"
)

// Envelope is the outer structure shared by all wire messages.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is implemented by every decoded wire payload.
type Message interface {
	Kind() EventType
}

// State is an authoritative game-state payload. Its shape is game-specific
// and opaque to the sync core; numeric leaves decode as float64.
type State map[string]any

// JoinTablePayload asks the server to seat this client at a table.
type JoinTablePayload struct {
	TableID string `json:"table_id"`
}

// PlayerMovePayload carries a player action. ActionID and SentAt are
// client-local bookkeeping for reconciliation; the server ignores them.
type PlayerMovePayload struct {
	TableID  string          `json:"table_id"`
	ActionID string          `json:"action_id"`
	SentAt   time.Time       `json:"sent_at"`
	Move     json.RawMessage `json:"move"`
}

// TableUpdatePayload is the broadcast snapshot path.
type TableUpdatePayload struct {
	State  State  `json:"state"`
	Winner string `json:"winner,omitempty"`
}

// RoomConfirmPayload is the direct per-action confirmation path.
type RoomConfirmPayload struct {
	Snapshot struct {
		State State `json:"state"`
	} `json:"snapshot"`
	ActionID string `json:"action_id"`
}

// GameOverPayload ends a table session.
type GameOverPayload struct {
	WinnerID  string `json:"winner_id"`
	Prize     int64  `json:"prize,omitempty"`
	Animation string `json:"animation,omitempty"`
}

// BetPlacedPayload announces another player's wager.
type BetPlacedPayload struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

func (JoinTablePayload) Kind() EventType   { return EventTypeJoinTable }
func (PlayerMovePayload) Kind() EventType  { return EventTypePlayerMove }
func (TableUpdatePayload) Kind() EventType { return EventTypeTableUpdate }
func (RoomConfirmPayload) Kind() EventType { return EventTypeRoomConfirm }
func (GameOverPayload) Kind() EventType    { return EventTypeGameOver }
func (BetPlacedPayload) Kind() EventType   { return EventTypeBetPlaced }

// Encode wraps a payload in its envelope and marshals it.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msg.Kind(), err)
	}
	return json.Marshal(Envelope{Event: msg.Kind(), Data: data})
}

// DecodeMessage parses raw transport bytes into the appropriate payload
// struct. Unknown event types return an error; callers log and drop.
func DecodeMessage(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Event {
	case EventTypeJoinTable:
		var payload JoinTablePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePlayerMove:
		var payload PlayerMovePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTableUpdate:
		var payload TableUpdatePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoomConfirm:
		var payload RoomConfirmPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeGameOver:
		var payload GameOverPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeBetPlaced:
		var payload BetPlacedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", env.Event)
	}
}
