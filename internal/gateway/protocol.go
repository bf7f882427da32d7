// Package gateway manages the lifecycle of bidirectional client connections:
// handshake, intent validation, heartbeats, and outbound event delivery.
package gateway

import (
	"encoding/json"

	"beacon/internal/domain/entity"
	"beacon/internal/errors"

	"github.com/go-playground/validator/v10"
)

// MessageType discriminates the JSON messages on the wire.
type MessageType string

const (
	// Client to server.
	TypeOnline      MessageType = "online"
	TypeMoved       MessageType = "moved"
	TypeOffline     MessageType = "offline"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"

	// Server to client.
	TypeTruckOnline  MessageType = "truckOnline"
	TypeTruckMoved   MessageType = "truckMoved"
	TypeTruckOffline MessageType = "truckOffline"
	TypeSubscribed   MessageType = "subscribed"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

// Error codes surfaced to clients.
const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeUnauthorized   = "UNAUTHORIZED_VENDOR"
	CodeInvalidRadius  = "INVALID_RADIUS"
)

// ClientMessage is any inbound frame. Which fields are required depends on
// the type; Decode enforces that before the message reaches the pipeline.
type ClientMessage struct {
	Type      MessageType `json:"type" validate:"required"`
	VendorID  string      `json:"vendorId,omitempty"`
	Token     string      `json:"token,omitempty"`
	Latitude  float64     `json:"lat" validate:"gte=-90,lte=90"`
	Longitude float64     `json:"lon" validate:"gte=-180,lte=180"`
	Address   string      `json:"address,omitempty"`
	RadiusKm  float64     `json:"radiusKm,omitempty" validate:"gte=0"`
	Sequence  uint64      `json:"seq,omitempty"`
}

// ServerMessage is any outbound frame.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	VendorID  string      `json:"vendorId,omitempty"`
	Latitude  float64     `json:"lat,omitempty"`
	Longitude float64     `json:"lon,omitempty"`
	Sequence  uint64      `json:"seq,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

var validate = validator.New()

// DecodeClientMessage parses and validates one inbound frame.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "malformed message")
	}
	if err := validate.Struct(&msg); err != nil {
		return nil, errors.Wrap(err, "invalid message fields")
	}

	switch msg.Type {
	case TypeOnline, TypeMoved:
		if msg.VendorID == "" {
			return nil, errors.Errorf("%s intent requires vendorId", msg.Type)
		}
	case TypeOffline:
		if msg.VendorID == "" {
			return nil, errors.New("offline intent requires vendorId")
		}
	case TypeSubscribe, TypeUnsubscribe, TypePing:
	default:
		return nil, errors.Errorf("unknown message type: %s", msg.Type)
	}

	return &msg, nil
}

// Encode serializes an outbound frame.
func (m ServerMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode server message")
	}

	return data, nil
}

// EventToMessage converts a presence event to its wire form.
func EventToMessage(event entity.PresenceEvent) ServerMessage {
	msg := ServerMessage{
		VendorID: event.VendorID,
		Sequence: event.Sequence,
	}
	switch event.Kind {
	case entity.EventOnline:
		msg.Type = TypeTruckOnline
		msg.Latitude = event.Latitude
		msg.Longitude = event.Longitude
	case entity.EventMoved:
		msg.Type = TypeTruckMoved
		msg.Latitude = event.Latitude
		msg.Longitude = event.Longitude
	case entity.EventOffline:
		msg.Type = TypeTruckOffline
	}

	return msg
}

// MessageToEvent converts a server frame back into a presence event.
// Used by the consuming client; returns false for non-event frames.
func MessageToEvent(msg ServerMessage) (entity.PresenceEvent, bool) {
	event := entity.PresenceEvent{
		VendorID:  msg.VendorID,
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
		Sequence:  msg.Sequence,
	}
	switch msg.Type {
	case TypeTruckOnline:
		event.Kind = entity.EventOnline
	case TypeTruckMoved:
		event.Kind = entity.EventMoved
	case TypeTruckOffline:
		event.Kind = entity.EventOffline
	default:
		return entity.PresenceEvent{}, false
	}

	return event, true
}
