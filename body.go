package main

import (
	"bytes"
	"io"
	"time"

	"github.com/codesenberg/trebuchet/internal/eventloop"
)

// bodyWrite records one staged chunk for inspection in tests.
type bodyWrite struct {
	size int
	eos  bool
}

type stagedChunk struct {
	data []byte
	eos  bool
}

// bodyProducer generates the request body: one chunk of filler per loop
// timer tick, with a minimum delay before every tick. Engines consume it
// as the request body reader; Read blocks until the next chunk is
// staged, and draining a chunk is what arms the following tick. At most
// one chunk is ever in flight.
type bodyProducer struct {
	loop   *eventloop.Loop
	filler []byte
	delay  time.Duration

	// loop-confined
	remaining int64
	timer     *eventloop.Timer
	cancelled bool
	writes    []bodyWrite

	// engine-confined
	cur     []byte
	eosSeen bool

	tick   chan stagedChunk
	cancel chan struct{}

	onExhausted func()
}

func newBodyProducer(
	loop *eventloop.Loop,
	size int64,
	filler []byte,
	delay time.Duration,
) *bodyProducer {
	return &bodyProducer{
		loop:      loop,
		filler:    filler,
		delay:     delay,
		remaining: size,
		tick:      make(chan stagedChunk, 1),
		cancel:    make(chan struct{}),
	}
}

// start arms the first tick. Loop goroutine only.
func (p *bodyProducer) start() {
	p.scheduleTick()
}

// Read hands out staged filler bytes. It runs on the engine goroutine
// and blocks until a chunk is staged or the producer is cancelled.
func (p *bodyProducer) Read(buf []byte) (int, error) {
	for {
		if len(p.cur) > 0 {
			n := copy(buf, p.cur)
			p.cur = p.cur[n:]
			if len(p.cur) == 0 {
				p.chunkDrained()
			}
			return n, nil
		}
		if p.eosSeen {
			return 0, io.EOF
		}
		select {
		case c := <-p.tick:
			p.cur = c.data
			p.eosSeen = c.eos
		case <-p.cancel:
			return 0, io.EOF
		}
	}
}

// Close ends pacing. Transports call it when they are done with the
// request body.
func (p *bodyProducer) Close() error {
	p.loop.Post(p.cancelStream)
	return nil
}

// cancelStream stops the pending tick and makes further reads return
// io.EOF. Loop goroutine only.
func (p *bodyProducer) cancelStream() {
	if p.cancelled {
		return
	}
	p.cancelled = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	close(p.cancel)
}

// writeLog is the staged chunk history. Loop goroutine only.
func (p *bodyProducer) writeLog() []bodyWrite {
	return p.writes
}

func (p *bodyProducer) scheduleTick() {
	p.timer = p.loop.Schedule(p.delay, func() {
		p.timer = nil
		p.stageChunk()
	})
}

// stageChunk runs on the loop goroutine when a tick fires.
func (p *bodyProducer) stageChunk() {
	if p.cancelled || p.remaining <= 0 {
		return
	}
	n := int64(len(p.filler))
	if n > p.remaining {
		n = p.remaining
	}
	p.remaining -= n
	eos := p.remaining == 0
	p.writes = append(p.writes, bodyWrite{size: int(n), eos: eos})
	select {
	case p.tick <- stagedChunk{data: p.filler[:n], eos: eos}:
	default:
	}
}

// chunkDrained runs on the engine goroutine once the transport accepted
// a whole chunk; the proceed step.
func (p *bodyProducer) chunkDrained() {
	if p.eosSeen {
		if p.onExhausted != nil {
			p.loop.Post(p.onExhausted)
		}
		return
	}
	p.loop.Post(p.armNext)
}

// armNext runs on the loop goroutine and schedules the next tick unless
// the stream ended early.
func (p *bodyProducer) armNext() {
	if p.cancelled || p.remaining <= 0 {
		return
	}
	p.scheduleTick()
}

func makeFiller(chunkSize uint64) []byte {
	return bytes.Repeat([]byte{fillerByte}, int(chunkSize))
}
