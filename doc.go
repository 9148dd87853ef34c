/*
Command line utility trebuchet is a cross-platform HTTP/1.1, HTTP/2 and
HTTP/3 probing tool written in Go.

Installation with Go 1.17+:

	go install github.com/codesenberg/trebuchet@latest

Usage:

	trebuchet [<flags>] <url>

Flags:

	    --help                   Show context-sensitive help (also try
	                             --help-long and --help-man).
	    --version                Show application version.
	-2, --http2=0-100            Percentage of requests to attempt over HTTP/2
	-3, --http3                  Use HTTP/3 for all requests
	-E, --event-log=/path/to/file
	                             Path to the QUIC event log(qlog) output file
	-b, --body-size=[<pos. int.>]
	                             Size of the generated request body in bytes
	-c, --chunk-size=10          Size of a single body chunk in bytes
	-i, --interval=0             Minimum delay between body chunks, in
	                             milliseconds
	-k, --insecure               Controls whether a client verifies the server's
	                             certificate chain and host name
	-m, --method=GET             Request method
	-t, --requests=1             Number of requests to run sequentially
	-H, --header="K: V" ...      HTTP headers to use(can be repeated)
	    --timeout=5s             Uniform socket/handshake/idle timeout
	    --cert=""                Path to the client's TLS Certificate
	    --key=""                 Path to the client's TLS Certificate Private Key

Args:

	<url>  Target's URL

Response status lines and headers go to stderr, response bodies to
stdout, so piping the body somewhere useful still leaves the exchange
visible on the terminal. The exit code is zero only if every request
completed with a response body.

Server certificates are verified against $H2O_ROOT/share/h2o/ca-bundle.crt
when that bundle exists, otherwise against the host's trust store.
*/
package main
