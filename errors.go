package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/quic-go/quic-go"
)

type errorKind int

const (
	errKindConnect errorKind = iota
	errKindTLS
	errKindTimeout
	errKindProtocol
)

func (k errorKind) String() string {
	switch k {
	case errKindConnect:
		return "connection failed"
	case errKindTLS:
		return "tls handshake failed"
	case errKindTimeout:
		return "i/o timeout"
	default:
		return "protocol error"
	}
}

// requestError is a classified failure of a single exchange.
type requestError struct {
	kind  errorKind
	cause error
}

func (e *requestError) Error() string {
	return fmt.Sprintf("%v: %v", e.kind, e.cause)
}

func (e *requestError) Unwrap() error {
	return e.cause
}

// classify buckets a transport failure for reporting. io.EOF is the
// end-of-stream sentinel, not a failure, and must never be passed here.
func classify(err error) *requestError {
	var re *requestError
	if errors.As(err, &re) {
		return re
	}
	switch {
	case isConnectError(err):
		return &requestError{errKindConnect, err}
	case isTimeoutError(err):
		return &requestError{errKindTimeout, err}
	case isTLSError(err):
		return &requestError{errKindTLS, err}
	}
	return &requestError{errKindProtocol, err}
}

func isConnectError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSError(err error) bool {
	var (
		recordHeaderErr tls.RecordHeaderError
		certVerifyErr   *tls.CertificateVerificationError
		unknownAuthErr  x509.UnknownAuthorityError
		hostnameErr     x509.HostnameError
		alertErr        tls.AlertError
	)
	if errors.As(err, &recordHeaderErr) || errors.As(err, &certVerifyErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &hostnameErr) ||
		errors.As(err, &alertErr) {
		return true
	}
	var qtErr *quic.TransportError
	return errors.As(err, &qtErr) && qtErr.ErrorCode.IsCryptoError()
}
