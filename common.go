package main

import (
	"errors"
	"net/url"
	"sort"
	"time"

	"github.com/goware/urlx"
)

const (
	decBase = 10

	exitFailure = 1

	// fillerByte fills every generated body chunk.
	fillerByte = byte('a')

	// poolCapacity bounds both the number of pooled origins and the
	// sockets each origin may keep.
	poolCapacity = 10

	// maxUniStreams is advertised on every QUIC connection.
	maxUniStreams = 10
)

var (
	version = "unspecified"

	emptyConf = config{}
	parser    = newKingpinParser()

	defaultMethod    = "GET"
	defaultChunkSize = uint64(10)
	defaultRequests  = uint64(1)
	defaultTimeout   = 5 * time.Second

	httpMethods = []string{
		"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS",
		"PATCH",
	}
	cantHaveBody = []string{"HEAD"}

	errUnsupportedScheme = errors.New("unsupported scheme")
	errEmptyHost         = errors.New("no hostname in the url")
	errInvalidBodySize   = errors.New(
		"body size must be greater than 0")
	errInvalidChunkSize = errors.New(
		"chunk size must be greater than 0")
	errInvalidNumberOfRequests = errors.New(
		"invalid number of requests(must be > 0)")
	errInvalidHTTP2Ratio = errors.New(
		"HTTP/2 ratio must be within [0, 100]")
	errNegativeTimeout = errors.New(
		"timeout can't be negative")
	errBodyNotAllowed = errors.New(
		"HEAD requests cannot have body")
	errNoPathToCert = errors.New(
		"no Path to TLS Client Certificate")
	errNoPathToKey = errors.New(
		"no Path to TLS Client Certificate Private Key")
	errInvalidHeaderFormat = errors.New("invalid header format")

	errNoBody        = errors.New("no body")
	errPoolExhausted = errors.New("connection pool exhausted")
)

func ParseURLOrPanic(s string) *url.URL {
	u, err := urlx.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func init() {
	sort.Strings(httpMethods)
	sort.Strings(cantHaveBody)
}
