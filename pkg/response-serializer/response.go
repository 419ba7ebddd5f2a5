package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Agent-Stored-At"

type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was written to the cache.
	StoredAt time.Time
}

// ResponseToBytes returns the HTTP/1.1 representation of a response, including the time it was stored.
// The response body is consumed, but it is set back so the response can still be sent to the client.
func ResponseToBytes(res *http.Response, storedAt time.Time) ([]byte, error) {
	body, err := readBody(res)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	text := http.StatusText(res.StatusCode)
	fmt.Fprintf(buf, "HTTP/1.1 %03d %s\r\n", res.StatusCode, text)

	header := res.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set(storedAtHeaderName, strconv.FormatInt(storedAt.Unix(), 10))
	if err := header.Write(buf); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	buf.Write(body)

	return buf.Bytes(), nil
}

// BytesToStoredResponse parses bytes created by ResponseToBytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	// delete extra headers
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// readBody reads the whole response body and sets it back as a re-readable body.
func readBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		return []byte{}, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil
	return body, nil
}
