package tee

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"strconv"
)

// ResponseSaver is an http.ResponseWriter that saves the response to a buffer.
type ResponseSaver struct {
	header       http.Header
	body         *bytes.Buffer
	status       int
	wroteHeaders bool
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	return t.body.Write(b)
}

// Response returns the recorded response in HTTP/1.1 wire format.
func (t *ResponseSaver) Response() []byte {
	status := t.status
	if !t.wroteHeaders {
		status = http.StatusOK
	}
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "HTTP/1.1 %03d %s\r\n", status, http.StatusText(status))
	header := t.header.Clone()
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", strconv.Itoa(t.body.Len()))
	header.Write(buf)
	buf.WriteString("\r\n")
	buf.Write(t.body.Bytes())
	return buf.Bytes()
}

// Result parses the recorded response into an *http.Response for the given request.
func (t *ResponseSaver) Result(req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(t.Response())), req)
}

// NewResponseSaver returns a new ResponseSaver.
func NewResponseSaver() *ResponseSaver {
	return &ResponseSaver{
		body:   &bytes.Buffer{},
		header: http.Header{},
	}
}
