package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResultParsesRecordedResponse(t *testing.T) {
	rs := NewResponseSaver(nil)
	rs.Header().Set("Content-Type", "text/css")
	rs.WriteHeader(http.StatusNotFound)
	rs.Write([]byte("body { }"))

	res, err := rs.Result(nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/css" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != "body { }" {
		t.Fatalf("Body is %s", body)
	}
}

func TestEmptyHandlerIsOk(t *testing.T) {
	rs := NewResponseSaver(nil)
	res, err := rs.Result(nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", res.StatusCode)
	}
}

func TestTeeWritesUnderlying(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Add("Cache-Update", "/list")
	rs.Write([]byte("done"))

	if rr.Body.String() != "done" {
		t.Fatalf("Underlying body is %s", rr.Body.String())
	}
	if updates := rs.Updates(); len(updates) != 1 || updates[0] != "/list" {
		t.Fatalf("Updates are %v", updates)
	}
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
}
