package api

import (
	"bytes"
	"io"
	"net/http"
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 1 << 20

// captureBody reads and returns the body while allowing it to be read again
func captureBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
