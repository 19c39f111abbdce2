package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

// StoredResponse is an immutable snapshot of a response as it was put in a store.
type StoredResponse struct {
	Response *http.Response
	// The value of the clock when the response was stored.
	StoredAt time.Time
}

// StoredResponseToBytes returns the HTTP/1.1 representation of the stored response.
// The body of the response is left readable.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := ResponseToBytes(res)
	// remove the extra header just in case
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// BytesToStoredResponse parses bytes written by StoredResponseToBytes.
// The request is attached to the returned response and may be nil.
func BytesToStoredResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := BytesToResponse(b, req)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	if storedAt := res.Header.Get(storedAtHeaderName); storedAt != "" {
		storedAtInt, err := strconv.ParseInt(storedAt, 10, 64)
		if err != nil {
			return sRes, err
		}
		sRes.StoredAt = time.Unix(storedAtInt, 0)
	}
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// BytesToResponse converts a byte slice to a http.Response.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}

// ResponseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response, always with a Content-Length.
// When it returns, the response body can still be read from the beginning.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	body, err := readBody(res)
	if err != nil {
		return nil, err
	}
	out := *res
	out.Proto, out.ProtoMajor, out.ProtoMinor = "HTTP/1.1", 1, 1
	out.Header = res.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.TransferEncoding = nil
	out.Trailer = nil
	out.Close = false
	out.Request = nil
	buf := &bytes.Buffer{}
	if err := out.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Synthetic creates a plain text response that did not come from the network.
func Synthetic(statusCode int, body string, req *http.Request) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &http.Response{
		Status:        strconv.Itoa(statusCode) + " " + http.StatusText(statusCode),
		StatusCode:    statusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// readBody reads the whole body and sets it back on the response.
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
	return body, nil
}
