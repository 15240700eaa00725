package protocol

import "fmt"

// Serverbound and clientbound ids used by the handshake and login flow.
const (
	HandshakeID      int32 = 0x00
	StatusRequestID  int32 = 0x00
	StatusResponseID int32 = 0x00
	PingID           int32 = 0x01
	LoginStartID     int32 = 0x00
	KeepAliveID      int32 = 0x21
)

const (
	maxServerAddress = 255
	maxUsername      = 16
	maxStatusJSON    = 32767
)

// Handshake is the first packet a client sends.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

// Next states a handshake may request.
const (
	StateStatus int32 = 1
	StateLogin  int32 = 2
)

func ReadHandshake(p *Packet) (h Handshake, err error) {
	if h.ProtocolVersion, err = p.ReadVarint(); err != nil {
		return h, fmt.Errorf("handshake protocol version: %w", err)
	}
	if h.ServerAddress, err = p.ReadString(maxServerAddress); err != nil {
		return h, fmt.Errorf("handshake server address: %w", err)
	}
	if h.ServerPort, err = p.ReadUint16(); err != nil {
		return h, fmt.Errorf("handshake server port: %w", err)
	}
	if h.NextState, err = p.ReadVarint(); err != nil {
		return h, fmt.Errorf("handshake next state: %w", err)
	}
	return h, nil
}

func (h Handshake) Write(p *Packet) (err error) {
	if err = p.WriteVarint(h.ProtocolVersion); err != nil {
		return
	}
	if err = p.WriteString(h.ServerAddress); err != nil {
		return
	}
	if err = p.WriteUint16(h.ServerPort); err != nil {
		return
	}
	return p.WriteVarint(h.NextState)
}

// LoginStart carries the player name; names longer than 16 bytes are rejected.
type LoginStart struct {
	Username string
}

func ReadLoginStart(p *Packet) (LoginStart, error) {
	name, err := p.ReadString(maxUsername)
	if err != nil {
		return LoginStart{}, fmt.Errorf("login start username: %w", err)
	}
	return LoginStart{Username: name}, nil
}

func (l LoginStart) Write(p *Packet) error {
	if len(l.Username) > maxUsername {
		return ErrStringTooLong
	}
	return p.WriteString(l.Username)
}

// KeepAlive is echoed back by the client with the same id.
type KeepAlive struct {
	ID int64
}

func ReadKeepAlive(p *Packet) (KeepAlive, error) {
	id, err := p.ReadInt64()
	if err != nil {
		return KeepAlive{}, fmt.Errorf("keep alive id: %w", err)
	}
	return KeepAlive{ID: id}, nil
}

func (k KeepAlive) Write(p *Packet) error {
	return p.WriteInt64(k.ID)
}

// StatusResponse carries the server list entry as a JSON document.
type StatusResponse struct {
	JSON string
}

func ReadStatusResponse(p *Packet) (StatusResponse, error) {
	doc, err := p.ReadString(maxStatusJSON)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("status response: %w", err)
	}
	return StatusResponse{JSON: doc}, nil
}

func (s StatusResponse) Write(p *Packet) error {
	return p.WriteString(s.JSON)
}

// Ping is sent by the client after the status exchange and echoed by the server.
type Ping struct {
	Payload int64
}

func ReadPing(p *Packet) (Ping, error) {
	v, err := p.ReadInt64()
	if err != nil {
		return Ping{}, fmt.Errorf("ping payload: %w", err)
	}
	return Ping{Payload: v}, nil
}

func (g Ping) Write(p *Packet) error {
	return p.WriteInt64(g.Payload)
}
