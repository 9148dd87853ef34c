package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/goware/urlx"
)

type config struct {
	url     string
	method  string
	headers *headersList

	bodySize  *uint64
	chunkSize uint64
	interval  time.Duration

	numReqs    uint64
	http2Ratio uint64
	http3      bool

	eventLogPath string

	certPath string
	keyPath  string
	insecure bool

	timeout time.Duration
}

type invalidHTTPMethodError struct {
	method string
}

func (i *invalidHTTPMethodError) Error() string {
	return fmt.Sprintf("Unknown HTTP method: %v", i.method)
}

func (c *config) checkArgs() error {
	if err := c.checkURL(); err != nil {
		return err
	}
	if c.numReqs < 1 {
		return errInvalidNumberOfRequests
	}
	if c.http2Ratio > 100 {
		return errInvalidHTTP2Ratio
	}
	if c.bodySize != nil && *c.bodySize == 0 {
		return errInvalidBodySize
	}
	if c.chunkSize == 0 {
		return errInvalidChunkSize
	}
	if c.timeout < 0 {
		return errNegativeTimeout
	}
	if !allowedHTTPMethod(c.method) {
		return &invalidHTTPMethodError{method: c.method}
	}
	if !canHaveBody(c.method) && c.bodySize != nil {
		return errBodyNotAllowed
	}
	if c.certPath != "" && c.keyPath == "" {
		return errNoPathToKey
	}
	if c.certPath == "" && c.keyPath != "" {
		return errNoPathToCert
	}
	return nil
}

func (c *config) checkURL() error {
	u, err := urlx.Parse(c.url)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return errEmptyHost
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errUnsupportedScheme
	}
	return nil
}

// bodyBytes is the configured body size, 0 when no body was requested.
func (c *config) bodyBytes() int64 {
	if c.bodySize == nil {
		return 0
	}
	return int64(*c.bodySize)
}

func allowedHTTPMethod(method string) bool {
	i := sort.SearchStrings(httpMethods, method)
	return i < len(httpMethods) && httpMethods[i] == method
}

func canHaveBody(method string) bool {
	i := sort.SearchStrings(cantHaveBody, method)
	return !(i < len(cantHaveBody) && cantHaveBody[i] == method)
}
