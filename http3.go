package main

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/quic-go/logging"
	"github.com/quic-go/quic-go/qlog"

	"github.com/codesenberg/trebuchet/internal/eventloop"
)

const cidLen = 8

// quicNoError is the H3_NO_ERROR application close code.
const quicNoError = quic.ApplicationErrorCode(0x100)

// cidGenerator mints connection IDs by encrypting a counter under a
// per-process random key.
type cidGenerator struct {
	block cipher.Block

	mu  sync.Mutex
	ctr uint64
}

func newCIDGenerator() (*cidGenerator, error) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &cidGenerator{block: block}, nil
}

func (g *cidGenerator) GenerateConnectionID() (quic.ConnectionID, error) {
	g.mu.Lock()
	ctr := g.ctr
	g.ctr++
	g.mu.Unlock()
	var in, out [aes.BlockSize]byte
	binary.BigEndian.PutUint64(in[:8], ctr)
	g.block.Encrypt(out[:], in[:])
	return quic.ConnectionIDFromBytes(out[:cidLen]), nil
}

func (g *cidGenerator) ConnectionIDLen() int {
	return cidLen
}

// qlogSink shares one unbuffered file between connection tracers. The
// per-connection writers only serialize access; the file itself closes
// at shutdown.
type qlogSink struct {
	mu sync.Mutex
	f  *os.File
}

func newQlogSink(path string) (*qlogSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &qlogSink{f: f}, nil
}

func (s *qlogSink) tracerWriter() io.WriteCloser {
	return &qlogWriter{sink: s}
}

func (s *qlogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

type qlogWriter struct {
	sink *qlogSink
}

func (w *qlogWriter) Write(b []byte) (int, error) {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	if w.sink.f == nil {
		return len(b), nil
	}
	return w.sink.f.Write(b)
}

func (w *qlogWriter) Close() error {
	return nil
}

// h3Context owns the HTTP/3 side: one UDP socket, the QUIC transport
// with the process connection ID generator, and the round tripper every
// HTTP/3 request shares. Live connections are tracked on the loop so
// shutdown can drain them.
type h3Context struct {
	loop *eventloop.Loop

	udp  *net.UDPConn
	qtr  *quic.Transport
	tr   *http3.Transport
	cl   *http.Client
	qlog *qlogSink

	conns map[quic.EarlyConnection]struct{}
}

func newH3Context(
	loop *eventloop.Loop,
	tlsConfig *tls.Config,
	conf config,
) (*h3Context, error) {
	udp, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	gen, err := newCIDGenerator()
	if err != nil {
		_ = udp.Close()
		return nil, err
	}
	h := &h3Context{
		loop:  loop,
		udp:   udp,
		conns: make(map[quic.EarlyConnection]struct{}),
	}
	if conf.eventLogPath != "" {
		h.qlog, err = newQlogSink(conf.eventLogPath)
		if err != nil {
			_ = udp.Close()
			return nil, err
		}
	}
	h.qtr = &quic.Transport{
		Conn:                  udp,
		ConnectionIDGenerator: gen,
	}
	qconf := &quic.Config{
		MaxIncomingUniStreams: maxUniStreams,
		MaxIdleTimeout:        conf.timeout,
		HandshakeIdleTimeout:  conf.timeout,
	}
	if h.qlog != nil {
		qconf.Tracer = func(
			ctx context.Context,
			p logging.Perspective,
			odcid quic.ConnectionID,
		) *logging.ConnectionTracer {
			return qlog.NewConnectionTracer(h.qlog.tracerWriter(), p, odcid)
		}
	}
	h.tr = &http3.Transport{
		TLSClientConfig: tlsConfig,
		QUICConfig:      qconf,
		Dial:            h.dial,
	}
	h.cl = &http.Client{
		Transport: h.tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return h, nil
}

func (h *h3Context) engine() engine {
	return &stdEngine{cl: h.cl}
}

func (h *h3Context) dial(
	ctx context.Context,
	addr string,
	tlsConf *tls.Config,
	conf *quic.Config,
) (quic.EarlyConnection, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := h.qtr.DialEarly(ctx, udpAddr, tlsConf, conf)
	if err != nil {
		return nil, err
	}
	h.loop.Post(func() { h.conns[conn] = struct{}{} })
	go func() {
		<-conn.Context().Done()
		h.loop.Post(func() { delete(h.conns, conn) })
	}()
	return conn, nil
}

// numConnections reports live QUIC connections. Loop goroutine only.
func (h *h3Context) numConnections() int {
	return len(h.conns)
}

// closeAll begins an application close on every live connection. Loop
// goroutine only.
func (h *h3Context) closeAll() {
	for conn := range h.conns {
		_ = conn.CloseWithError(quicNoError, "")
	}
}

func (h *h3Context) shutdown() {
	_ = h.tr.Close()
	_ = h.qtr.Close()
	_ = h.udp.Close()
	if h.qlog != nil {
		_ = h.qlog.Close()
	}
}
