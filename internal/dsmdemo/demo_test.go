package dsmdemo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/torua-dsm/internal/dsm"
	"github.com/dreamware/torua-dsm/internal/dsmlog"
)

// freePort mirrors internal/dsm's own test helper: ask the OS for an
// ephemeral port, same trick the teacher's coordinator tests use.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestServer(t *testing.T) (*httptest.Server, *dsm.DSM) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	app, err := dsm.Init(ctx, dsm.Config{
		NodeID:    0,
		Port:      freePort(t),
		NumNodes:  1,
		IsManager: true,
		LogLevel:  0,
		PageSize:  4096,
	})
	if err != nil {
		t.Fatalf("dsm.Init: %v", err)
	}
	t.Cleanup(func() { app.Finalize(context.Background()) })

	srv := New(app, dsmlog.New("demo-test", dsmlog.LevelOff))
	mux := http.NewServeMux()
	srv.Register(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return hs, app
}

func TestHandleAllocWriteReadRoundTrip(t *testing.T) {
	hs, _ := newTestServer(t)

	allocBody, _ := json.Marshal(allocRequest{Bytes: 4096 * 2})
	resp, err := http.Post(hs.URL+"/demo/alloc", "application/json", bytes.NewReader(allocBody))
	if err != nil {
		t.Fatalf("POST /demo/alloc: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alloc status = %d", resp.StatusCode)
	}
	var addr addrResponse
	if err := json.NewDecoder(resp.Body).Decode(&addr); err != nil {
		t.Fatalf("decode alloc response: %v", err)
	}
	if addr.NumPages != 2 {
		t.Fatalf("expected 2 pages, got %d", addr.NumPages)
	}

	payload := bytes.Repeat([]byte{0x42}, 4096)
	writeBody, _ := json.Marshal(writeRequest{
		Base:     addr.Base,
		NumPages: addr.NumPages,
		Page:     1,
		Data:     base64.StdEncoding.EncodeToString(payload),
	})
	wresp, err := http.Post(hs.URL+"/demo/write", "application/json", bytes.NewReader(writeBody))
	if err != nil {
		t.Fatalf("POST /demo/write: %v", err)
	}
	wresp.Body.Close()
	if wresp.StatusCode != http.StatusNoContent {
		t.Fatalf("write status = %d", wresp.StatusCode)
	}

	readURL := fmt.Sprintf("%s/demo/read?base=%d&num_pages=%d&page=1", hs.URL, addr.Base, addr.NumPages)
	rresp, err := http.Get(readURL)
	if err != nil {
		t.Fatalf("GET /demo/read: %v", err)
	}
	defer rresp.Body.Close()
	if rresp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", rresp.StatusCode)
	}
	var read readResponse
	if err := json.NewDecoder(rresp.Body).Decode(&read); err != nil {
		t.Fatalf("decode read response: %v", err)
	}
	got, err := base64.StdEncoding.DecodeString(read.Data)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read-after-write mismatch")
	}
}

func TestHandleBarrierAndLock(t *testing.T) {
	hs, _ := newTestServer(t)

	bresp, err := http.Post(hs.URL+"/demo/barrier", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /demo/barrier: %v", err)
	}
	bresp.Body.Close()
	if bresp.StatusCode != http.StatusNoContent {
		t.Fatalf("barrier status = %d", bresp.StatusCode)
	}

	lockBody, _ := json.Marshal(lockRequest{ID: 7})
	lresp, err := http.Post(hs.URL+"/demo/lock", "application/json", bytes.NewReader(lockBody))
	if err != nil {
		t.Fatalf("POST /demo/lock: %v", err)
	}
	lresp.Body.Close()
	if lresp.StatusCode != http.StatusNoContent {
		t.Fatalf("lock status = %d", lresp.StatusCode)
	}

	uresp, err := http.Post(hs.URL+"/demo/unlock", "application/json", bytes.NewReader(lockBody))
	if err != nil {
		t.Fatalf("POST /demo/unlock: %v", err)
	}
	uresp.Body.Close()
	if uresp.StatusCode != http.StatusNoContent {
		t.Fatalf("unlock status = %d", uresp.StatusCode)
	}
}

func TestHandleStats(t *testing.T) {
	hs, _ := newTestServer(t)

	resp, err := http.Get(hs.URL + "/demo/stats")
	if err != nil {
		t.Fatalf("GET /demo/stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var counters map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&counters); err != nil {
		t.Fatalf("decode stats response: %v", err)
	}
	if _, ok := counters["TotalFaults"]; !ok {
		t.Fatalf("expected TotalFaults field in stats response, got %v", counters)
	}
}

func TestHandleAllocRejectsWrongMethod(t *testing.T) {
	hs, _ := newTestServer(t)

	resp, err := http.Get(hs.URL + "/demo/alloc")
	if err != nil {
		t.Fatalf("GET /demo/alloc: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
