package main

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/codesenberg/trebuchet/internal/eventloop"
)

func TestRequestStateToStringConversion(t *testing.T) {
	expectations := []struct {
		in  requestState
		out string
	}{
		{stateConnecting, "connecting"},
		{stateHeadPending, "head-pending"},
		{stateBodySending, "body-sending"},
		{stateHeadReceived, "head-received"},
		{stateBodyReceiving, "body-receiving"},
		{stateDone, "done"},
		{stateFailed, "failed"},
		{requestState(42), "unknown"},
	}
	for _, e := range expectations {
		if actual := e.in.String(); actual != e.out {
			t.Errorf("Expected %v, but got %v", e.out, actual)
		}
	}
}

func newTestDispatcher(l *eventloop.Loop, rawurl string, c *config) *dispatcher {
	var r, w int64
	pool := newConnPool(
		l, &tls.Config{InsecureSkipVerify: true}, 5*time.Second, &r, &w,
	)
	return newDispatcher(
		l, c, pool, nil, ParseURLOrPanic(rawurl),
		rand.New(rand.NewSource(1)),
	)
}

// requestRecorder implements the three caller callbacks and keeps what
// they were handed.
type requestRecorder struct {
	plan *requestPlan

	connectState requestState
	connectErr   error
	headState    requestState
	head         *responseHead
	headErr      error
	bodyState    requestState
	body         bytes.Buffer
	bodyErr      error
	sawEOS       bool
	done         bool
	failed       bool
}

func (rec *requestRecorder) newRequest(d *dispatcher) *request {
	return d.newRequest(
		func(r *request, err error) (*requestPlan, error) {
			rec.connectState, rec.connectErr = r.state, err
			if err != nil {
				return nil, err
			}
			return rec.plan, nil
		},
		func(r *request, head *responseHead, err error) error {
			rec.headState, rec.head, rec.headErr = r.state, head, err
			return nil
		},
		func(r *request, chunk []byte, err error) error {
			rec.bodyState = r.state
			if err == io.EOF {
				rec.sawEOS = true
				return nil
			}
			if err != nil {
				rec.bodyErr = err
				return nil
			}
			_, _ = rec.body.Write(chunk)
			return nil
		},
		func(r *request, failed bool) {
			rec.done, rec.failed = true, failed
		},
	)
}

func TestRequestShouldRunThroughLifecycleStates(t *testing.T) {
	response := bytes.Repeat([]byte{'a'}, 512)
	s := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(response)
		},
	))
	defer s.Close()

	l := eventloop.New()
	c := &config{method: "GET", chunkSize: defaultChunkSize}
	d := newTestDispatcher(l, s.URL, c)
	rec := &requestRecorder{plan: &requestPlan{
		method:  "GET",
		url:     d.target,
		headers: new(headersList),
	}}
	r := rec.newRequest(d)
	r.start()
	for !rec.done {
		l.RunOnce()
	}

	if rec.failed {
		t.Fatalf("Expected the request to succeed, got %v / %v", rec.headErr, rec.bodyErr)
	}
	if rec.connectState != stateConnecting {
		t.Errorf("Expected onConnect in %v, but got %v", stateConnecting, rec.connectState)
	}
	if rec.headState != stateHeadReceived {
		t.Errorf("Expected onHead in %v, but got %v", stateHeadReceived, rec.headState)
	}
	if rec.bodyState != stateBodyReceiving {
		t.Errorf("Expected onBody in %v, but got %v", stateBodyReceiving, rec.bodyState)
	}
	if r.state != stateDone {
		t.Errorf("Expected %v, but got %v", stateDone, r.state)
	}
	if !rec.sawEOS {
		t.Error("Expected the eos sentinel to end the body stream")
	}
	if rec.head.status != http.StatusOK {
		t.Errorf("Expected %v, but got %v", http.StatusOK, rec.head.status)
	}
	if !bytes.Equal(rec.body.Bytes(), response) {
		t.Errorf("Expected %v body bytes, but got %v", len(response), rec.body.Len())
	}
	// the entry went back to the pool and only its idle timer remains
	o := originOf(d.target)
	if pc, ok := d.pool.entries[o]; !ok || pc.inflight != 0 {
		t.Error("Expected the pool entry to be released")
	}
	if n := l.PendingTimers(); n != 1 {
		t.Errorf("Expected only the idle timer to remain, but got %v", n)
	}
}

func TestRequestShouldPaceBodyThenReceiveHead(t *testing.T) {
	var (
		mu      sync.Mutex
		gotBody []byte
		gotCL   int64
	)
	s := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				t.Error(err)
			}
			mu.Lock()
			gotBody, gotCL = b, r.ContentLength
			mu.Unlock()
			_, _ = w.Write(b)
		},
	))
	defer s.Close()

	l := eventloop.New()
	c := &config{method: "POST", chunkSize: 10}
	d := newTestDispatcher(l, s.URL, c)
	rec := &requestRecorder{plan: &requestPlan{
		method:   "POST",
		url:      d.target,
		headers:  new(headersList),
		bodySize: 25,
	}}
	r := rec.newRequest(d)
	r.start()
	for !rec.done {
		l.RunOnce()
	}

	if rec.failed {
		t.Fatalf("Expected the request to succeed, got %v / %v", rec.headErr, rec.bodyErr)
	}
	mu.Lock()
	if gotCL != 25 {
		t.Errorf("Expected Content-Length %v, but got %v", 25, gotCL)
	}
	if len(gotBody) != 25 {
		t.Errorf("Expected %v request body bytes, but got %v", 25, len(gotBody))
	}
	mu.Unlock()
	expectedWrites := []bodyWrite{{10, false}, {10, false}, {5, true}}
	got := r.producer.writeLog()
	if len(got) != len(expectedWrites) {
		t.Fatalf("Expected writes %v, but got %v", expectedWrites, got)
	}
	for i, w := range expectedWrites {
		if got[i] != w {
			t.Errorf("Expected write %v to be %v, but got %v", i, w, got[i])
		}
	}
	if rec.body.Len() != 25 {
		t.Errorf("Expected the echoed body, got %v bytes", rec.body.Len())
	}
	if n := l.PendingTimers(); n != 1 {
		t.Errorf("Expected only the idle timer to remain, but got %v", n)
	}
}

func TestRequestShouldFailOnConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	rawurl := "http://" + ln.Addr().String() + "/"
	ln.Close()

	l := eventloop.New()
	c := &config{method: "GET", chunkSize: defaultChunkSize}
	d := newTestDispatcher(l, rawurl, c)
	rec := &requestRecorder{plan: &requestPlan{
		method:  "GET",
		url:     d.target,
		headers: new(headersList),
	}}
	r := rec.newRequest(d)
	r.start()
	for !rec.done {
		l.RunOnce()
	}

	if !rec.failed {
		t.Fatal("Expected the request to fail")
	}
	if r.state != stateFailed {
		t.Errorf("Expected %v, but got %v", stateFailed, r.state)
	}
	var re *requestError
	if !errors.As(rec.headErr, &re) || re.kind != errKindConnect {
		t.Errorf("Expected a classified connect error, but got %v", rec.headErr)
	}
	if rec.body.Len() != 0 || rec.sawEOS {
		t.Error("No body events should be delivered on a connect failure")
	}
	// nothing reusable survives a failed exchange
	if n := d.pool.len(); n != 0 {
		t.Errorf("Expected the entry to be dropped, but pool has %v", n)
	}
}

func TestRequestShouldSurfaceBindFailureToCallbacks(t *testing.T) {
	l := eventloop.New()
	c := &config{method: "GET", chunkSize: defaultChunkSize}
	d := newTestDispatcher(l, "http://busy.somedomain:8080/", c)
	for i := 0; i < poolCapacity; i++ {
		if _, err := d.pool.borrow(testOrigin(i)); err != nil {
			t.Fatal(err)
		}
	}
	rec := &requestRecorder{}
	r := rec.newRequest(d)
	r.start()

	if rec.connectErr != errPoolExhausted {
		t.Errorf("Expected %v, but got %v", errPoolExhausted, rec.connectErr)
	}
	if rec.headErr != errPoolExhausted {
		t.Errorf("Expected %v, but got %v", errPoolExhausted, rec.headErr)
	}
	if !rec.done || !rec.failed {
		t.Error("Expected the request to finish failed")
	}
	if r.state != stateFailed {
		t.Errorf("Expected %v, but got %v", stateFailed, r.state)
	}
}

func TestEarlyResponseShouldCancelPacedProducer(t *testing.T) {
	l := eventloop.New()
	p := newBodyProducer(l, 1000, makeFiller(100), time.Hour)
	rec := &requestRecorder{}
	r := &request{
		state:    stateBodySending,
		producer: p,
		onHead: func(r *request, head *responseHead, err error) error {
			rec.headState, rec.head, rec.headErr = r.state, head, err
			return nil
		},
		onBody: func(r *request, chunk []byte, err error) error {
			if err == io.EOF {
				rec.sawEOS = true
			}
			return nil
		},
		onDone: func(r *request, failed bool) {
			rec.done, rec.failed = true, failed
		},
	}
	p.start()
	if n := l.PendingTimers(); n != 1 {
		t.Fatalf("Expected a pending tick, but got %v timers", n)
	}

	r.handleHead(&responseHead{version: protoVersion{1, 1}, status: 200}, nil)
	if n := l.PendingTimers(); n != 0 {
		t.Errorf("Expected the pending tick to be cancelled, but got %v timers", n)
	}
	if rec.headState != stateHeadReceived {
		t.Errorf("Expected onHead in %v, but got %v", stateHeadReceived, rec.headState)
	}
	if r.state != stateBodyReceiving {
		t.Errorf("Expected %v, but got %v", stateBodyReceiving, r.state)
	}
	buf := make([]byte, 10)
	if n, err := p.Read(buf); n != 0 || err != io.EOF {
		t.Errorf("Expected the producer stream to end, got %v/%v", n, err)
	}

	r.handleBody(nil, io.EOF)
	if !rec.done || rec.failed {
		t.Error("Expected the request to finish successfully")
	}
	if r.state != stateDone {
		t.Errorf("Expected %v, but got %v", stateDone, r.state)
	}
}

func TestHeadWithEOSShouldFailAsNoBody(t *testing.T) {
	rec := &requestRecorder{}
	r := &request{
		state: stateHeadPending,
		onHead: func(r *request, head *responseHead, err error) error {
			rec.headState, rec.head, rec.headErr = r.state, head, err
			return nil
		},
		onBody: func(r *request, chunk []byte, err error) error {
			if err != nil && err != io.EOF {
				rec.bodyErr = err
			}
			return nil
		},
		onDone: func(r *request, failed bool) {
			rec.done, rec.failed = true, failed
		},
	}
	r.handleHead(&responseHead{
		version: protoVersion{1, 1},
		status:  204,
		eos:     true,
	}, nil)

	if rec.headErr != nil {
		t.Errorf("The head itself should be delivered cleanly, got %v", rec.headErr)
	}
	if rec.bodyErr != errNoBody {
		t.Errorf("Expected %v, but got %v", errNoBody, rec.bodyErr)
	}
	if !rec.done || !rec.failed {
		t.Error("Expected the request to finish failed")
	}
	if r.state != stateFailed {
		t.Errorf("Expected %v, but got %v", stateFailed, r.state)
	}
}

func TestBodyCallbackErrorShouldAbortRequest(t *testing.T) {
	abort := errors.New("had enough")
	s := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(bytes.Repeat([]byte{'a'}, 512))
		},
	))
	defer s.Close()

	l := eventloop.New()
	c := &config{method: "GET", chunkSize: defaultChunkSize}
	d := newTestDispatcher(l, s.URL, c)
	done, failed := false, false
	r := d.newRequest(
		func(r *request, err error) (*requestPlan, error) {
			if err != nil {
				return nil, err
			}
			return &requestPlan{
				method:  "GET",
				url:     d.target,
				headers: new(headersList),
			}, nil
		},
		func(r *request, head *responseHead, err error) error { return nil },
		func(r *request, chunk []byte, err error) error {
			if err == nil {
				return abort
			}
			return nil
		},
		func(r *request, f bool) { done, failed = true, f },
	)
	r.start()
	for !done {
		l.RunOnce()
	}

	if !failed {
		t.Fatal("Expected the request to fail")
	}
	if r.failure != abort {
		t.Errorf("Expected %v, but got %v", abort, r.failure)
	}
	if n := d.pool.len(); n != 0 {
		t.Errorf("Expected a non-reusable release, but pool has %v", n)
	}
}
