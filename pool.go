package main

import (
	"container/list"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/net/http2"

	"github.com/codesenberg/trebuchet/internal/eventloop"
)

// origin identifies a pool entry: scheme plus host:port with the default
// port filled in.
type origin struct {
	scheme   string
	hostPort string
}

func originOf(u *url.URL) origin {
	hostPort := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		hostPort = net.JoinHostPort(u.Hostname(), port)
	}
	return origin{scheme: u.Scheme, hostPort: hostPort}
}

func (o origin) isTLS() bool {
	return o.scheme == "https"
}

func (o origin) String() string {
	return o.scheme + "://" + o.hostPort
}

// poolClient bundles the transports kept for one origin: a fasthttp
// client for HTTP/1.1 and an h2-enabled net/http client.
type poolClient struct {
	origin origin

	fast *fasthttp.HostClient
	h2cl *http.Client
	h2tr *http.Transport

	inflight  int
	lastUsed  time.Time
	idleTimer *eventloop.Timer
	elem      *list.Element
}

func (pc *poolClient) closeIdleConnections() {
	pc.fast.CloseIdleConnections()
	pc.h2tr.CloseIdleConnections()
}

// connPool keeps per-origin client bundles with LRU eviction and idle
// expiry. It is confined to the loop goroutine.
type connPool struct {
	loop *eventloop.Loop

	tlsConfig   *tls.Config
	timeout     time.Duration
	capacity    int
	idleTimeout time.Duration

	bytesRead, bytesWritten *int64

	entries map[origin]*poolClient
	lru     *list.List // front is the most recently used
}

func newConnPool(
	loop *eventloop.Loop,
	tlsConfig *tls.Config,
	timeout time.Duration,
	bytesRead, bytesWritten *int64,
) *connPool {
	return &connPool{
		loop:         loop,
		tlsConfig:    tlsConfig,
		timeout:      timeout,
		capacity:     poolCapacity,
		idleTimeout:  timeout,
		bytesRead:    bytesRead,
		bytesWritten: bytesWritten,
		entries:      make(map[origin]*poolClient),
		lru:          list.New(),
	}
}

// borrow hands out the entry for o, creating it when absent. The entry
// stays pinned until released.
func (p *connPool) borrow(o origin) (*poolClient, error) {
	if pc, ok := p.entries[o]; ok {
		pc.inflight++
		if pc.idleTimer != nil {
			pc.idleTimer.Stop()
			pc.idleTimer = nil
		}
		p.lru.MoveToFront(pc.elem)
		return pc, nil
	}
	if len(p.entries) >= p.capacity && !p.evictOldestIdle() {
		return nil, errPoolExhausted
	}
	return p.newEntry(o), nil
}

// release returns a borrowed entry. A reusable release keeps the sockets
// for the next request and arms the idle timer; otherwise the entry is
// dropped once nothing else holds it.
func (p *connPool) release(pc *poolClient, reusable bool) {
	if pc.inflight > 0 {
		pc.inflight--
	}
	pc.lastUsed = time.Now()
	if !reusable {
		if pc.inflight == 0 {
			p.drop(pc)
		}
		return
	}
	p.lru.MoveToFront(pc.elem)
	p.armIdleTimer(pc)
}

func (p *connPool) setIdleTimeout(d time.Duration) {
	p.idleTimeout = d
}

func (p *connPool) closeAll() {
	for _, pc := range p.entries {
		if pc.idleTimer != nil {
			pc.idleTimer.Stop()
			pc.idleTimer = nil
		}
		pc.closeIdleConnections()
	}
	p.entries = make(map[origin]*poolClient)
	p.lru.Init()
}

func (p *connPool) len() int {
	return len(p.entries)
}

func (p *connPool) newEntry(o origin) *poolClient {
	pc := &poolClient{
		origin:   o,
		inflight: 1,
		lastUsed: time.Now(),
	}
	pc.fast = &fasthttp.HostClient{
		Addr:                          o.hostPort,
		IsTLS:                         o.isTLS(),
		TLSConfig:                     p.tlsConfig.Clone(),
		MaxConns:                      poolCapacity,
		MaxIdleConnDuration:           p.idleTimeout,
		DisableHeaderNamesNormalizing: true,
		StreamResponseBody:            true,
		Dial: fasthttpDialFunc(
			p.bytesRead, p.bytesWritten, p.timeout,
		),
	}
	tr := &http.Transport{
		TLSClientConfig:     p.tlsConfig.Clone(),
		MaxIdleConnsPerHost: poolCapacity,
		IdleConnTimeout:     p.idleTimeout,
		TLSHandshakeTimeout: p.timeout,
		DisableCompression:  true,
	}
	tr.DialContext = httpDialContextFunc(p.bytesRead, p.bytesWritten, p.timeout)
	_ = http2.ConfigureTransport(tr)
	pc.h2tr = tr
	pc.h2cl = &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	pc.elem = p.lru.PushFront(pc)
	p.entries[o] = pc
	return pc
}

func (p *connPool) evictOldestIdle() bool {
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		pc := e.Value.(*poolClient)
		if pc.inflight == 0 {
			p.drop(pc)
			return true
		}
	}
	return false
}

func (p *connPool) drop(pc *poolClient) {
	if pc.idleTimer != nil {
		pc.idleTimer.Stop()
		pc.idleTimer = nil
	}
	p.lru.Remove(pc.elem)
	delete(p.entries, pc.origin)
	pc.closeIdleConnections()
}

func (p *connPool) armIdleTimer(pc *poolClient) {
	if pc.inflight > 0 || p.idleTimeout <= 0 {
		return
	}
	if pc.idleTimer != nil {
		pc.idleTimer.Stop()
	}
	pc.idleTimer = p.loop.Schedule(p.idleTimeout, func() {
		pc.idleTimer = nil
		if pc.inflight == 0 {
			p.drop(pc)
		}
	})
}
