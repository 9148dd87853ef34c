package main

import (
	"bufio"
	"log"
	"strings"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/valyala/fasthttp"
)

var serverPort = kingpin.Flag("port", "port to listen on").
	Default("8080").
	Short('p').
	String()
var responseSize = kingpin.Flag("size", "size of the canned response in bytes").
	Default("1024").
	Short('s').
	Uint()
var chunkDelay = kingpin.Flag("delay", "delay between response chunks").
	Default("0s").
	Short('d').
	Duration()

func main() {
	kingpin.Parse()
	response := strings.Repeat("a", int(*responseSize))
	addr := "localhost:" + *serverPort
	log.Println("Starting HTTP echo server on:", addr)
	err := fasthttp.ListenAndServe(addr, func(c *fasthttp.RequestCtx) {
		body := c.PostBody()
		if len(body) == 0 {
			body = []byte(response)
		}
		if *chunkDelay == 0 {
			_, werr := c.Write(body)
			if werr != nil {
				log.Println(werr)
			}
			return
		}
		delay := *chunkDelay
		// The stream writer runs after the handler returns, when the
		// request's buffers may already be recycled.
		body = append([]byte(nil), body...)
		c.SetBodyStreamWriter(func(w *bufio.Writer) {
			for len(body) > 0 {
				n := len(body)
				if n > 1024 {
					n = 1024
				}
				if _, werr := w.Write(body[:n]); werr != nil {
					return
				}
				if werr := w.Flush(); werr != nil {
					return
				}
				body = body[n:]
				time.Sleep(delay)
			}
		})
	})
	if err != nil {
		log.Println(err)
	}
}
