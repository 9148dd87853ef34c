package main

import (
	"io"
	"net/url"

	"github.com/valyala/bytebufferpool"
)

type requestState int

const (
	stateConnecting requestState = iota
	stateHeadPending
	stateBodySending
	stateHeadReceived
	stateBodyReceiving
	stateDone
	stateFailed
)

func (s requestState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateHeadPending:
		return "head-pending"
	case stateBodySending:
		return "body-sending"
	case stateHeadReceived:
		return "head-received"
	case stateBodyReceiving:
		return "body-receiving"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// requestPlan is what the caller wants sent once a connection is bound.
// A bodySize above zero installs the paced producer with that many
// filler bytes.
type requestPlan struct {
	method   string
	url      *url.URL
	headers  *headersList
	bodySize int64
}

// The caller drives a request through three callbacks. onConnect runs
// once the request is bound to a connection, or with the binding error;
// it returns the plan. onHead runs once with the response head or with
// the classified failure if none arrived. onBody runs per body chunk in
// byte order, the final call carrying io.EOF; failures after the head
// arrive here too. A non-nil return from any callback aborts the
// request.
type (
	connectFunc func(r *request, err error) (*requestPlan, error)
	headFunc    func(r *request, head *responseHead, err error) error
	bodyFunc    func(r *request, chunk []byte, err error) error
)

// request is the per-exchange state machine. Every method runs on the
// loop goroutine; engine events repost themselves through the sink
// methods.
type request struct {
	d *dispatcher

	state requestState

	plan     *requestPlan
	bound    *boundConn
	producer *bodyProducer

	onConnect connectFunc
	onHead    headFunc
	onBody    bodyFunc
	onDone    func(r *request, failed bool)

	headDelivered bool
	failure       error
}

// start binds the request and fires the exchange. Loop goroutine only.
func (r *request) start() {
	r.state = stateConnecting
	bound, err := r.d.bind()
	plan, cerr := r.onConnect(r, err)
	if err != nil {
		r.fail(err)
		return
	}
	if cerr != nil {
		r.d.release(bound, true)
		r.fail(cerr)
		return
	}
	r.plan, r.bound = plan, bound

	x := &exchange{
		method:   plan.method,
		url:      plan.url,
		headers:  plan.headers,
		bodySize: plan.bodySize,
		sink:     r,
	}
	if plan.bodySize > 0 {
		r.producer = newBodyProducer(
			r.d.loop, plan.bodySize, r.d.filler, r.d.conf.interval,
		)
		r.producer.onExhausted = r.bodySent
		r.producer.start()
		x.body = r.producer
		r.state = stateBodySending
	} else {
		r.state = stateHeadPending
	}
	go r.bound.engine.execute(x)
}

func (r *request) engineHead(head *responseHead, err error) {
	r.d.loop.Post(func() { r.handleHead(head, err) })
}

func (r *request) engineBody(chunk *bytebufferpool.ByteBuffer, err error) {
	r.d.loop.Post(func() { r.handleBody(chunk, err) })
}

func (r *request) handleHead(head *responseHead, err error) {
	if r.terminal() {
		return
	}
	if err != nil {
		r.fail(classify(err))
		return
	}
	if r.state == stateBodySending && r.producer != nil {
		// the peer responded before the body finished
		r.producer.cancelStream()
	}
	r.state = stateHeadReceived
	r.headDelivered = true
	if herr := r.onHead(r, head, nil); herr != nil {
		r.fail(herr)
		return
	}
	if head.eos {
		r.fail(errNoBody)
		return
	}
	r.state = stateBodyReceiving
}

func (r *request) handleBody(chunk *bytebufferpool.ByteBuffer, err error) {
	if r.terminal() {
		if chunk != nil {
			bytebufferpool.Put(chunk)
		}
		return
	}
	if err == io.EOF {
		if berr := r.onBody(r, nil, io.EOF); berr != nil {
			r.fail(berr)
			return
		}
		r.finish()
		return
	}
	if err != nil {
		r.fail(classify(err))
		return
	}
	berr := r.onBody(r, chunk.B, nil)
	bytebufferpool.Put(chunk)
	if berr != nil {
		r.fail(berr)
	}
}

// bodySent runs when the producer drained its last chunk.
func (r *request) bodySent() {
	if r.state == stateBodySending {
		r.state = stateHeadPending
	}
}

func (r *request) fail(err error) {
	if r.terminal() {
		return
	}
	r.state = stateFailed
	r.failure = err
	if r.producer != nil {
		r.producer.cancelStream()
	}
	if !r.headDelivered {
		_ = r.onHead(r, nil, err)
	} else {
		_ = r.onBody(r, nil, err)
	}
	r.releaseBound(false)
	r.onDone(r, true)
}

func (r *request) finish() {
	if r.terminal() {
		return
	}
	r.state = stateDone
	r.releaseBound(true)
	r.onDone(r, false)
}

func (r *request) terminal() bool {
	return r.state == stateDone || r.state == stateFailed
}

func (r *request) releaseBound(reusable bool) {
	if r.bound == nil {
		return
	}
	r.d.release(r.bound, reusable)
	r.bound = nil
}
