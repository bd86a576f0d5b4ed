package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Engine.IO v4 packet types.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside Engine.IO messages.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
	sioBinaryEvent  byte = '5'
	sioBinaryAck    byte = '6'
)

var errBinaryUnsupported = errors.New("socketio: binary packets are not supported")

// openInfo is the Engine.IO handshake payload.
type openInfo struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // ms
	PingTimeout  int      `json:"pingTimeout"`  // ms
	MaxPayload   int      `json:"maxPayload"`
}

// liveness is how long the connection may stay silent before it is
// considered dead.
func (o openInfo) liveness() time.Duration {
	d := time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
	if d <= 0 {
		d = 45 * time.Second
	}
	return d
}

func decodeOpen(frame []byte) (openInfo, error) {
	var o openInfo
	if len(frame) == 0 || frame[0] != eioOpen {
		return o, fmt.Errorf("socketio: expected open packet, got %q", truncate(frame))
	}
	if err := json.Unmarshal(frame[1:], &o); err != nil {
		return o, fmt.Errorf("socketio: open packet: %w", err)
	}
	return o, nil
}

// packet is a decoded Socket.IO packet.
type packet struct {
	Type      byte
	Namespace string // "/" when absent
	AckID     int    // -1 when absent
	Data      json.RawMessage
}

func (p packet) encode() []byte {
	var b strings.Builder
	b.WriteByte(eioMessage)
	b.WriteByte(p.Type)
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.AckID >= 0 {
		b.WriteString(strconv.Itoa(p.AckID))
	}
	b.Write(p.Data)
	return []byte(b.String())
}

// decodePacket parses a Socket.IO packet with the Engine.IO message prefix
// already removed.
func decodePacket(s []byte) (packet, error) {
	p := packet{Namespace: "/", AckID: -1}
	if len(s) == 0 {
		return p, errors.New("socketio: empty packet")
	}
	p.Type = s[0]
	switch p.Type {
	case sioConnect, sioDisconnect, sioEvent, sioAck, sioConnectError:
	case sioBinaryEvent, sioBinaryAck:
		return p, errBinaryUnsupported
	default:
		return p, fmt.Errorf("socketio: unknown packet type %q", p.Type)
	}
	rest := s[1:]

	if len(rest) > 0 && rest[0] == '/' {
		end := len(rest)
		for i, c := range rest {
			if c == ',' {
				end = i
				break
			}
		}
		p.Namespace = string(rest[:end])
		if end < len(rest) {
			end++
		}
		rest = rest[end:]
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(string(rest[:i]))
		if err != nil {
			return p, fmt.Errorf("socketio: ack id: %w", err)
		}
		p.AckID = id
		rest = rest[i:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return p, fmt.Errorf("socketio: invalid payload %q", truncate(rest))
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// eventPacket builds a 42 packet for name with a single argument.
func eventPacket(namespace, name string, arg any) (packet, error) {
	data, err := json.Marshal([]any{name, arg})
	if err != nil {
		return packet{}, fmt.Errorf("socketio: encode %s: %w", name, err)
	}
	return packet{Type: sioEvent, Namespace: namespace, AckID: -1, Data: data}, nil
}

func connectPacket(namespace, token string) packet {
	data, _ := json.Marshal(map[string]string{"token": token})
	return packet{Type: sioConnect, Namespace: namespace, AckID: -1, Data: data}
}

// event splits an event payload into its name and first argument.
func (p packet) event() (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(p.Data, &parts); err != nil || len(parts) == 0 {
		return "", nil, fmt.Errorf("socketio: malformed event %q", truncate(p.Data))
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("socketio: event name: %w", err)
	}
	if len(parts) < 2 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

// connectError extracts the message of a 44 packet.
func (p packet) connectError() error {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(p.Data, &body) == nil && body.Message != "" {
		return &ConnectError{Message: body.Message}
	}
	var msg string
	if json.Unmarshal(p.Data, &msg) == nil && msg != "" {
		return &ConnectError{Message: msg}
	}
	return &ConnectError{Message: "connection refused by server"}
}

// ConnectError is a namespace connection rejected by the server, typically
// an authentication failure.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "socketio: connect rejected: " + e.Message
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
