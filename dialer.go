package main

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// countingConn tracks transferred bytes and enforces the uniform
// inactivity timeout. A read deadline only fires when neither direction
// saw traffic for the whole window, a write gets a fresh deadline every
// call.
type countingConn struct {
	net.Conn
	bytesRead, bytesWritten *int64

	timeout      time.Duration
	lastActivity int64 // unix nanos, atomic
}

func newCountingConn(
	conn net.Conn,
	bytesRead, bytesWritten *int64,
	timeout time.Duration,
) *countingConn {
	cc := &countingConn{
		Conn:         conn,
		bytesRead:    bytesRead,
		bytesWritten: bytesWritten,
		timeout:      timeout,
	}
	cc.touch()
	return cc
}

func (cc *countingConn) touch() {
	atomic.StoreInt64(&cc.lastActivity, time.Now().UnixNano())
}

func (cc *countingConn) last() time.Time {
	return time.Unix(0, atomic.LoadInt64(&cc.lastActivity))
}

func (cc *countingConn) Read(b []byte) (n int, err error) {
	for {
		last := cc.last()
		if cc.timeout > 0 {
			if derr := cc.Conn.SetReadDeadline(last.Add(cc.timeout)); derr != nil {
				return 0, derr
			}
		}
		n, err = cc.Conn.Read(b)
		if n > 0 {
			cc.touch()
			atomic.AddInt64(cc.bytesRead, int64(n))
		}
		if n == 0 && err != nil && isTimeoutError(err) && cc.last().After(last) {
			// the peer was quiet but this side was not, e.g. during a
			// long paced body send
			continue
		}
		return n, err
	}
}

func (cc *countingConn) Write(b []byte) (n int, err error) {
	if cc.timeout > 0 {
		if derr := cc.Conn.SetWriteDeadline(time.Now().Add(cc.timeout)); derr != nil {
			return 0, derr
		}
	}
	n, err = cc.Conn.Write(b)
	if n > 0 {
		cc.touch()
		atomic.AddInt64(cc.bytesWritten, int64(n))
	}
	return
}

var fasthttpDialFunc = func(
	bytesRead, bytesWritten *int64,
	timeout time.Duration,
) func(string) (net.Conn, error) {
	return func(address string) (net.Conn, error) {
		conn, err := net.DialTimeout("tcp", address, timeout)
		if err != nil {
			return nil, err
		}

		return newCountingConn(conn, bytesRead, bytesWritten, timeout), nil
	}
}

var httpDialContextFunc = func(
	bytesRead, bytesWritten *int64,
	timeout time.Duration,
) func(context.Context, string, string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}

		return newCountingConn(conn, bytesRead, bytesWritten, timeout), nil
	}
}
