package serializer

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}

	if _, err = ResponseToBytes(res, time.Now()); err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestStoredResponseKeepsStatusHeadersAndTime(t *testing.T) {
	res := &http.Response{
		StatusCode: http.StatusCreated,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("created")),
	}
	res.Header.Add("Test", "-ing")
	storedAt := time.Unix(1700000000, 0)

	bts, err := ResponseToBytes(res, storedAt)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	sRes, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if sRes.Response.StatusCode != http.StatusCreated {
		t.Fatalf("Status is %d", sRes.Response.StatusCode)
	}
	if sRes.Response.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", sRes.Response.Header)
	}
	if sRes.Response.Header.Get(storedAtHeaderName) != "" {
		t.Fatalf("Stored-at header leaked %+v", sRes.Response.Header)
	}
	if !sRes.StoredAt.Equal(storedAt) {
		t.Fatalf("Stored at %s", sRes.StoredAt)
	}
	body, _ := io.ReadAll(sRes.Response.Body)
	if string(body) != "created" {
		t.Fatalf("Body: %s", body)
	}
}

func TestEmptyBody(t *testing.T) {
	res := &http.Response{StatusCode: http.StatusNoContent, Header: http.Header{}}
	bts, err := ResponseToBytes(res, time.Now())
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	sRes, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if sRes.Response.StatusCode != http.StatusNoContent {
		t.Fatalf("Status is %d", sRes.Response.StatusCode)
	}
}
