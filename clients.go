package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// protoVersion is the HTTP version a response arrived over.
type protoVersion struct {
	major, minor int
}

// String renders the status line form, the minor digit only when
// non-zero.
func (v protoVersion) String() string {
	if v.minor == 0 {
		return fmt.Sprintf("HTTP/%d", v.major)
	}
	return fmt.Sprintf("HTTP/%d.%d", v.major, v.minor)
}

type respHeader struct {
	name, value string
}

// responseHead carries everything known once response headers complete.
// reason is the wire reason phrase, empty when the peer sent none or the
// protocol has none. eos is set when no body follows.
type responseHead struct {
	version protoVersion
	status  int
	reason  string
	headers []respHeader
	eos     bool
}

// exchange is one request/response pass handed to an engine. Engines run
// on their own goroutine and report through the sink.
type exchange struct {
	method  string
	url     *url.URL
	headers *headersList

	bodySize int64
	body     io.ReadCloser

	sink exchangeSink
}

// exchangeSink receives engine events. Implementations marshal them onto
// the loop goroutine. The head event comes exactly once, with either a
// head or an error; body events follow in byte order and end with a
// final io.EOF event.
type exchangeSink interface {
	engineHead(head *responseHead, err error)
	engineBody(chunk *bytebufferpool.ByteBuffer, err error)
}

type engine interface {
	execute(x *exchange)
}

// fastEngine runs exchanges over HTTP/1.1 through the entry's
// fasthttp.HostClient.
type fastEngine struct {
	hc *fasthttp.HostClient
}

func (e *fastEngine) execute(x *exchange) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	if h := x.headers.toRequestHeader(); h != nil {
		h.CopyTo(&req.Header)
	}
	if len(req.Header.Host()) == 0 {
		req.Header.SetHost(x.url.Host)
	}
	req.Header.SetMethod(x.method)
	req.SetRequestURI(x.url.RequestURI())
	req.URI().SetScheme(x.url.Scheme)
	if x.bodySize > 0 {
		req.Header.SetContentLength(int(x.bodySize))
		req.SetBodyStream(x.body, int(x.bodySize))
	}

	if err := e.hc.Do(req, resp); err != nil {
		x.sink.engineHead(nil, err)
		return
	}

	head := &responseHead{
		version: parseProto(string(resp.Header.Protocol())),
		status:  resp.StatusCode(),
		reason:  string(resp.Header.StatusMessage()),
	}
	resp.Header.VisitAll(func(k, v []byte) {
		head.headers = append(head.headers, respHeader{string(k), string(v)})
	})
	head.eos = x.method == "HEAD" ||
		noResponseBody(resp.StatusCode()) ||
		resp.Header.ContentLength() == 0
	x.sink.engineHead(head, nil)
	if head.eos {
		_ = resp.CloseBodyStream()
		return
	}
	streamToSink(resp.BodyStream(), x.sink)
	_ = resp.CloseBodyStream()
}

// stdEngine runs exchanges through a net/http compatible client: the
// pool's h2-enabled transport or the HTTP/3 round tripper.
type stdEngine struct {
	cl *http.Client
}

func (e *stdEngine) execute(x *exchange) {
	req, err := http.NewRequest(x.method, x.url.String(), nil)
	if err != nil {
		x.sink.engineHead(nil, err)
		return
	}
	req.Header = x.headers.toHTTPHeaders()
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
		req.Header.Del("Host")
	}
	if x.bodySize > 0 {
		req.ContentLength = x.bodySize
		req.Body = x.body
	}

	resp, err := e.cl.Do(req)
	if err != nil {
		x.sink.engineHead(nil, err)
		return
	}
	head := headFromResponse(x.method, resp)
	x.sink.engineHead(head, nil)
	if head.eos {
		_ = resp.Body.Close()
		return
	}
	streamToSink(resp.Body, x.sink)
	_ = resp.Body.Close()
}

func headFromResponse(method string, resp *http.Response) *responseHead {
	head := &responseHead{
		version: protoVersion{resp.ProtoMajor, resp.ProtoMinor},
		status:  resp.StatusCode,
	}
	// net/http synthesizes a reason phrase for HTTP/2 and HTTP/3, only
	// HTTP/1.x carries the peer's own words
	if resp.ProtoMajor == 1 {
		if _, reason, ok := strings.Cut(resp.Status, " "); ok {
			head.reason = reason
		}
	}
	lower := resp.ProtoMajor >= 2
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		display := name
		if lower {
			display = strings.ToLower(name)
		}
		for _, value := range resp.Header[name] {
			head.headers = append(head.headers, respHeader{display, value})
		}
	}
	head.eos = method == "HEAD" ||
		noResponseBody(resp.StatusCode) ||
		resp.ContentLength == 0 ||
		resp.Body == http.NoBody
	return head
}

func noResponseBody(status int) bool {
	return status < 200 || status == 204 || status == 304
}

func parseProto(proto string) protoVersion {
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		return protoVersion{1, 1}
	}
	return protoVersion{major, minor}
}

const bodyReadSize = 32 * 1024

// streamToSink pumps a response body to the loop in pooled chunks. The
// final event carries io.EOF and no chunk.
func streamToSink(r io.Reader, sink exchangeSink) {
	if r == nil {
		sink.engineBody(nil, io.EOF)
		return
	}
	buf := make([]byte, bodyReadSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := bytebufferpool.Get()
			_, _ = chunk.Write(buf[:n])
			sink.engineBody(chunk, nil)
		}
		if err == io.EOF {
			sink.engineBody(nil, io.EOF)
			return
		}
		if err != nil {
			sink.engineBody(nil, err)
			return
		}
	}
}
