package protocol

import "sync"

// Buffers that grew past this are dropped on Put instead of pinning their memory in the pool.
const maxPooledCap = 64 << 10

// Pool recycles packets between frames. A packet taken from the pool is owned by one connection
// until it is returned.
type Pool struct {
	maxLength int
	pool      sync.Pool
}

func NewPool(maxLength int) *Pool {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	p := &Pool{maxLength: maxLength}
	p.pool.New = func() any {
		return &Packet{buf: make([]byte, 0, 256), max: maxLength}
	}
	return p
}

// Get returns an empty write-mode packet with the given id.
func (p *Pool) Get(id int32) *Packet {
	pk := p.pool.Get().(*Packet)
	pk.Reset(id)
	return pk
}

// Put hands pk back. It must not be used afterwards.
func (p *Pool) Put(pk *Packet) {
	if pk == nil || cap(pk.buf) > maxPooledCap || pk.max != p.maxLength {
		return
	}
	p.pool.Put(pk)
}
