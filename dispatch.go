package main

import (
	"math/rand"
	"net/url"

	"github.com/codesenberg/trebuchet/internal/eventloop"
)

// boundConn is a request's attachment to a transport: a pool entry with
// the chosen engine, or the process-wide HTTP/3 context.
type boundConn struct {
	engine engine
	pooled *poolClient
}

// dispatcher binds requests to transports. In HTTP/3 mode every request
// goes through the shared QUIC context; otherwise it borrows the
// origin's pool entry and draws which of its engines to prefer.
type dispatcher struct {
	loop *eventloop.Loop
	conf *config

	pool *connPool
	h3   *h3Context

	target *url.URL
	filler []byte
	rnd    *rand.Rand
}

func newDispatcher(
	loop *eventloop.Loop,
	conf *config,
	pool *connPool,
	h3 *h3Context,
	target *url.URL,
	rnd *rand.Rand,
) *dispatcher {
	return &dispatcher{
		loop:   loop,
		conf:   conf,
		pool:   pool,
		h3:     h3,
		target: target,
		filler: makeFiller(conf.chunkSize),
		rnd:    rnd,
	}
}

func (d *dispatcher) newRequest(
	onConnect connectFunc,
	onHead headFunc,
	onBody bodyFunc,
	onDone func(r *request, failed bool),
) *request {
	return &request{
		d:         d,
		onConnect: onConnect,
		onHead:    onHead,
		onBody:    onBody,
		onDone:    onDone,
	}
}

func (d *dispatcher) bind() (*boundConn, error) {
	if d.conf.http3 {
		return &boundConn{engine: d.h3.engine()}, nil
	}
	pc, err := d.pool.borrow(originOf(d.target))
	if err != nil {
		return nil, err
	}
	if d.preferHTTP2() {
		return &boundConn{engine: &stdEngine{cl: pc.h2cl}, pooled: pc}, nil
	}
	return &boundConn{engine: &fastEngine{hc: pc.fast}, pooled: pc}, nil
}

// preferHTTP2 draws once per request. The draw decides which engine
// carries the request and with it the ALPN bias; the version printed
// later always comes from the response itself.
func (d *dispatcher) preferHTTP2() bool {
	ratio := d.conf.http2Ratio
	if ratio >= 100 {
		return true
	}
	if ratio == 0 {
		return false
	}
	return uint64(d.rnd.Intn(100)) < ratio
}

func (d *dispatcher) release(b *boundConn, reusable bool) {
	if b == nil || b.pooled == nil {
		return
	}
	d.pool.release(b.pooled, reusable)
}
