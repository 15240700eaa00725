package protocol

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/astei/chowder/fault"
)

var ErrUnexpectedPacket = fmt.Errorf("%w: unexpected packet", fault.ErrMalformedInput)

// Status is the answer to a server list query.
type Status struct {
	JSON    string
	Latency time.Duration
}

// QueryStatus runs the server list exchange over conn: a handshake asking for the status state,
// a status request, then a ping whose echo gives the latency. Cancelling ctx aborts any blocked
// read or write.
func QueryStatus(ctx context.Context, conn net.Conn, hs Handshake, pool *Pool) (Status, error) {
	if pool == nil {
		pool = NewPool(0)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Status{}, err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	hs.NextState = StateStatus
	if err := send(conn, pool, HandshakeID, hs.Write); err != nil {
		return Status{}, fmt.Errorf("send handshake: %w", err)
	}
	if err := send(conn, pool, StatusRequestID, nil); err != nil {
		return Status{}, fmt.Errorf("send status request: %w", err)
	}

	in := bufio.NewReader(conn)
	reply := NewPacket(0, pool.maxLength)
	if err := expect(in, reply, StatusResponseID); err != nil {
		return Status{}, err
	}
	response, err := ReadStatusResponse(reply)
	if err != nil {
		return Status{}, err
	}

	sent := time.Now()
	ping := Ping{Payload: sent.UnixMilli()}
	if err := send(conn, pool, PingID, ping.Write); err != nil {
		return Status{}, fmt.Errorf("send ping: %w", err)
	}
	if err := expect(in, reply, PingID); err != nil {
		return Status{}, err
	}
	pong, err := ReadPing(reply)
	if err != nil {
		return Status{}, err
	}
	if pong.Payload != ping.Payload {
		return Status{}, fmt.Errorf("%w: pong payload %d, sent %d", ErrUnexpectedPacket, pong.Payload, ping.Payload)
	}
	return Status{JSON: response.JSON, Latency: time.Since(sent)}, nil
}

func send(conn net.Conn, pool *Pool, id int32, body func(*Packet) error) error {
	p := pool.Get(id)
	defer pool.Put(p)
	if body != nil {
		if err := body(p); err != nil {
			return err
		}
	}
	if err := p.Finalize(); err != nil {
		return err
	}
	_, err := p.WriteTo(conn)
	return err
}

func expect(in *bufio.Reader, p *Packet, id int32) error {
	if err := p.ReadFrame(in); err != nil {
		return err
	}
	if p.ID != id {
		return fmt.Errorf("%w: id %#x, want %#x", ErrUnexpectedPacket, p.ID, id)
	}
	return nil
}
