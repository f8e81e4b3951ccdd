// Package protocol implements the JSON packets exchanged on the debugger
// message channel.
//
// Requests flow from the host to the engine's debug agent; responses and
// events flow back. Every packet carries a "type" discriminator of
// "request", "response" or "event".
package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Packet types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

var ErrUnknownPacket = errors.New("unknown packet type")

// codec keeps map keys sorted so encoded packets are stable.
var codec = sonic.ConfigStd

// Request is a command sent to the debug agent.
type Request struct {
	Seq       int            `json:"seq"`
	Type      string         `json:"type"`
	Command   string         `json:"command"`
	Arguments map[string]any `json:"arguments"`
}

// Response answers a Request.
type Response struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	RequestSeq int    `json:"request_seq"`
	Command    string `json:"command"`
	Body       any    `json:"body,omitempty"`
	Running    bool   `json:"running"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
}

// Event is an unsolicited notification from the agent.
type Event struct {
	Seq   int    `json:"seq"`
	Type  string `json:"type"`
	Event string `json:"event"`
	Body  any    `json:"body,omitempty"`
}

// Packet is a decoded message of any type.
type Packet struct {
	Type     string
	Request  *Request
	Response *Response
	Event    *Event
}

// Seq returns the sequence number of the wrapped packet.
func (p *Packet) Seq() int {
	switch {
	case p.Request != nil:
		return p.Request.Seq
	case p.Response != nil:
		return p.Response.Seq
	case p.Event != nil:
		return p.Event.Seq
	}
	return 0
}

// NewRequest builds a request packet. Nil arguments encode as an empty object.
func NewRequest(seq int, command string, args map[string]any) *Request {
	if args == nil {
		args = map[string]any{}
	}
	return &Request{Seq: seq, Type: TypeRequest, Command: command, Arguments: args}
}

// Encode marshals any packet value.
func Encode(v any) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode packet: %w", err)
	}
	return data, nil
}

// ParseRequest decodes a request packet.
func ParseRequest(payload []byte) (*Request, error) {
	var req Request
	if err := codec.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.Type != TypeRequest {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacket, req.Type)
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	return &req, nil
}

// Parse decodes a packet, dispatching on its type field.
func Parse(payload []byte) (*Packet, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := codec.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}

	p := &Packet{Type: head.Type}
	switch head.Type {
	case TypeRequest:
		req, err := ParseRequest(payload)
		if err != nil {
			return nil, err
		}
		p.Request = req
	case TypeResponse:
		p.Response = &Response{}
		if err := codec.Unmarshal(payload, p.Response); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	case TypeEvent:
		p.Event = &Event{}
		if err := codec.Unmarshal(payload, p.Event); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacket, head.Type)
	}
	return p, nil
}
