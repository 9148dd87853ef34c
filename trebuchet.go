package main

import (
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/codesenberg/trebuchet/internal/eventloop"
)

// trebuchet fires the configured number of sequential requests, printing
// response heads to errOut and raw body bytes to out.
type trebuchet struct {
	bytesRead, bytesWritten int64

	conf   config
	target *url.URL

	loop *eventloop.Loop
	pool *connPool
	h3   *h3Context
	disp *dispatcher

	left     uint64
	exiting  bool
	aborted  bool
	exitCode int
	active   *request

	out    io.Writer
	errOut io.Writer
}

func newTrebuchet(c config) (*trebuchet, error) {
	if err := c.checkArgs(); err != nil {
		return nil, err
	}
	t := new(trebuchet)
	t.conf = c
	t.left = c.numReqs
	t.loop = eventloop.New()
	t.out = os.Stdout
	t.errOut = os.Stderr

	tlsConfig, err := generateTLSConfig(c)
	if err != nil {
		return nil, err
	}
	t.target = ParseURLOrPanic(c.url)

	t.pool = newConnPool(
		t.loop, tlsConfig, c.timeout, &t.bytesRead, &t.bytesWritten,
	)
	if c.http3 {
		t.h3, err = newH3Context(t.loop, tlsConfig, c)
		if err != nil {
			return nil, err
		}
	}
	t.disp = newDispatcher(
		t.loop, &t.conf, t.pool, t.h3, t.target,
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)
	return t, nil
}

// run performs the whole probe and returns the process exit code.
func (t *trebuchet) run() int {
	t.startRequest()
	for t.left != 0 && !t.aborted {
		t.loop.RunOnce()
	}
	t.shutdown()
	return t.exitCode
}

func (t *trebuchet) startRequest() {
	r := t.disp.newRequest(t.onConnect, t.onHead, t.onBody, t.onRequestDone)
	t.active = r
	r.start()
}

func (t *trebuchet) onConnect(r *request, err error) (*requestPlan, error) {
	if err != nil {
		return nil, err
	}
	return &requestPlan{
		method:   t.conf.method,
		url:      t.target,
		headers:  t.conf.headers,
		bodySize: t.conf.bodyBytes(),
	}, nil
}

func (t *trebuchet) onHead(r *request, head *responseHead, err error) error {
	if err != nil {
		fmt.Fprintln(t.errOut, err)
		return nil
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString(head.version.String())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(strconv.Itoa(head.status))
	if head.reason != "" {
		_ = buf.WriteByte(' ')
		_, _ = buf.WriteString(head.reason)
	}
	_ = buf.WriteByte('\n')
	for _, h := range head.headers {
		_, _ = buf.WriteString(h.name)
		_, _ = buf.WriteString(": ")
		_, _ = buf.WriteString(h.value)
		_ = buf.WriteByte('\n')
	}
	_ = buf.WriteByte('\n')
	_, _ = t.errOut.Write(buf.B)
	return nil
}

func (t *trebuchet) onBody(r *request, chunk []byte, err error) error {
	if err != nil && err != io.EOF {
		fmt.Fprintln(t.errOut, err)
		return nil
	}
	if len(chunk) > 0 {
		if _, werr := t.out.Write(chunk); werr != nil {
			return werr
		}
	}
	return nil
}

func (t *trebuchet) onRequestDone(r *request, failed bool) {
	t.active = nil
	if failed {
		t.deferExit()
		return
	}
	t.left--
	if t.left > 0 && !t.exiting {
		t.startRequest()
	}
}

// deferExit marks the run as failed and stops the loop on the next
// iteration, leaving in-flight close frames one more chance to go out.
func (t *trebuchet) deferExit() {
	t.exitCode = exitFailure
	if t.exiting {
		return
	}
	t.exiting = true
	t.loop.Schedule(0, func() { t.aborted = true })
}

func (t *trebuchet) shutdown() {
	if t.h3 != nil {
		t.h3.closeAll()
		for t.h3.numConnections() > 0 {
			t.loop.RunOnce()
		}
		t.h3.shutdown()
	}
	t.pool.closeAll()
}

func (t *trebuchet) redirectOutputTo(out io.Writer) {
	t.out = out
}

func (t *trebuchet) redirectErrorsTo(out io.Writer) {
	t.errOut = out
}

func main() {
	cfg, err := parser.parse(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
	t, err := newTrebuchet(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		t.loop.Post(func() { t.deferExit() })
	}()
	os.Exit(t.run())
}
