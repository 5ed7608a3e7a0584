package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"storefront/internal/eventbus"
)

// ErrMalformed marks a payload that can never be processed; such messages are dropped, not retried
var ErrMalformed = errors.New("malformed event")

// Envelope is the logical shape of an event. On the wire eventType and correlationId travel
// as message attributes and the body is the bare payload.
type Envelope struct {
	EventType     string          `json:"eventType"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

// Decoded is an event together with its correlation id
type Decoded struct {
	CorrelationID string
	Event         Event
}

// Encode marshals ev as the message body and sets the eventType and correlationId attributes
func Encode(ev Event, correlationID string) (*eventbus.Message, error) {
	if _, ok := ev.(Unknown); ok {
		return nil, fmt.Errorf("cannot encode unknown event type %q", ev.EventType())
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.EventType(), err)
	}

	return &eventbus.Message{
		ID: uuid.NewString(),
		Attributes: map[string]string{
			AttrEventType:     ev.EventType(),
			AttrCorrelationID: correlationID,
		},
		Data: payload,
	}, nil
}

// envelopeOf routes on the attributes. A message without an eventType attribute is read as an
// enveloped body, which is how producers that cannot set attributes publish.
func envelopeOf(msg *eventbus.Message) (Envelope, error) {
	if eventType := msg.Attr(AttrEventType); eventType != "" {
		return Envelope{
			EventType:     eventType,
			CorrelationID: msg.Attr(AttrCorrelationID),
			Payload:       msg.Data,
		}, nil
	}

	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	return env, nil
}

// Decode maps a bus message onto the closed set of events.
// An unknown type yields Unknown without error; payloads that cannot be processed
// return an error wrapping ErrMalformed.
func Decode(msg *eventbus.Message) (*Decoded, error) {
	env, err := envelopeOf(msg)
	if err != nil {
		return nil, err
	}

	out := &Decoded{CorrelationID: env.CorrelationID}

	switch env.EventType {
	case TypeOrderCreated:
		var ev OrderCreated
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.OrderID == "" {
			return nil, fmt.Errorf("%w: order.created without orderId", ErrMalformed)
		}
		if len(ev.Items) == 0 {
			return nil, fmt.Errorf("%w: order.created %s without items", ErrMalformed, ev.OrderID)
		}
		for _, it := range ev.Items {
			if it.ProductID == "" || it.Quantity <= 0 {
				return nil, fmt.Errorf("%w: order.created %s has an invalid item", ErrMalformed, ev.OrderID)
			}
		}
		out.Event = ev

	case TypeStockReserved:
		var ev StockReserved
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.OrderID == "" {
			return nil, fmt.Errorf("%w: stock.reserved without orderId", ErrMalformed)
		}
		out.Event = ev

	case TypeStockReservationFailed:
		var ev StockReservationFailed
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.OrderID == "" {
			return nil, fmt.Errorf("%w: stock.reservation_failed without orderId", ErrMalformed)
		}
		out.Event = ev

	default:
		out.Event = Unknown{Type: env.EventType}
	}

	return out, nil
}

func unmarshalPayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return nil
}
