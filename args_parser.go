package main

import (
	"runtime"
	"strconv"
	"time"

	"github.com/alecthomas/kingpin"
)

type argsParser interface {
	parse([]string) (config, error)
}

type kingpinParser struct {
	app *kingpin.Application

	url string

	bodySize   *nullableUint64
	headers    *headersList
	chunkSize  uint64
	intervalMs uint64
	numReqs    uint64
	http2Ratio uint64
	http3      bool
	eventLog   string
	timeout    time.Duration
	insecure   bool
	method     string
	certPath   string
	keyPath    string
}

func newKingpinParser() argsParser {
	kparser := &kingpinParser{
		bodySize:   new(nullableUint64),
		headers:    new(headersList),
		chunkSize:  defaultChunkSize,
		intervalMs: 0,
		numReqs:    defaultRequests,
		http2Ratio: 0,
		http3:      false,
		eventLog:   "",
		timeout:    defaultTimeout,
		insecure:   false,
		method:     defaultMethod,
		certPath:   "",
		keyPath:    "",
		url:        "",
	}

	app := kingpin.New("", "HTTP/1.1, HTTP/2 and HTTP/3 probing tool").
		Version("trebuchet version " + version + " " + runtime.GOOS + "/" +
			runtime.GOARCH)
	app.Flag("http2", "Percentage of requests to attempt over HTTP/2").
		PlaceHolder("0-100").
		Short('2').
		Uint64Var(&kparser.http2Ratio)
	app.Flag("http3", "Use HTTP/3 for all requests").
		Short('3').
		BoolVar(&kparser.http3)
	app.Flag("event-log", "Path to the QUIC event log(qlog) output file").
		PlaceHolder("/path/to/file").
		Short('E').
		StringVar(&kparser.eventLog)
	app.Flag("body-size", "Size of the generated request body in bytes").
		PlaceHolder("[<pos. int.>]").
		Short('b').
		SetValue(kparser.bodySize)
	app.Flag("chunk-size", "Size of a single body chunk in bytes").
		PlaceHolder(strconv.FormatUint(defaultChunkSize, decBase)).
		Short('c').
		Uint64Var(&kparser.chunkSize)
	app.Flag("interval", "Minimum delay between body chunks, in milliseconds").
		PlaceHolder("0").
		Short('i').
		Uint64Var(&kparser.intervalMs)
	app.Flag("insecure",
		"Controls whether a client verifies the server's certificate"+
			" chain and host name").
		Short('k').
		BoolVar(&kparser.insecure)
	app.Flag("method", "Request method").
		PlaceHolder("GET").
		Short('m').
		StringVar(&kparser.method)
	app.Flag("requests", "Number of requests to run sequentially").
		PlaceHolder(strconv.FormatUint(defaultRequests, decBase)).
		Short('t').
		Uint64Var(&kparser.numReqs)
	app.Flag("header", "HTTP headers to use(can be repeated)").
		PlaceHolder("\"K: V\"").
		Short('H').
		SetValue(kparser.headers)
	app.Flag("timeout", "Uniform socket/handshake/idle timeout").
		PlaceHolder(defaultTimeout.String()).
		DurationVar(&kparser.timeout)
	app.Flag("cert", "Path to the client's TLS Certificate").
		Default("").
		StringVar(&kparser.certPath)
	app.Flag("key", "Path to the client's TLS Certificate Private Key").
		Default("").
		StringVar(&kparser.keyPath)

	app.Arg("url", "Target's URL").Required().
		StringVar(&kparser.url)

	kparser.app = app
	return argsParser(kparser)
}

func (k *kingpinParser) parse(args []string) (config, error) {
	k.app.Name = args[0]
	_, err := k.app.Parse(args[1:])
	if err != nil {
		return emptyConf, err
	}
	return config{
		url:          k.url,
		method:       k.method,
		headers:      k.headers,
		bodySize:     k.bodySize.val,
		chunkSize:    k.chunkSize,
		interval:     time.Duration(k.intervalMs) * time.Millisecond,
		numReqs:      k.numReqs,
		http2Ratio:   k.http2Ratio,
		http3:        k.http3,
		eventLogPath: k.eventLog,
		certPath:     k.certPath,
		keyPath:      k.keyPath,
		insecure:     k.insecure,
		timeout:      k.timeout,
	}, nil
}
