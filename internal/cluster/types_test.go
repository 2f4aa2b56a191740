package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNodeInfoRoundTrip(t *testing.T) {
	node := NodeInfo{ID: "n1", Addr: "127.0.0.1:9000", DataAddr: "127.0.0.1:9100"}

	data, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var jsonMap map[string]any
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("unmarshal to map: %v", err)
	}
	if jsonMap["id"] != "n1" {
		t.Errorf("id = %v, want n1", jsonMap["id"])
	}
	if jsonMap["data_addr"] != "127.0.0.1:9100" {
		t.Errorf("data_addr = %v, want 127.0.0.1:9100", jsonMap["data_addr"])
	}

	var decoded NodeInfo
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != node {
		t.Errorf("decoded = %+v, want %+v", decoded, node)
	}
}

func TestRegisterRequestRoundTrip(t *testing.T) {
	req := RegisterRequest{Node: NodeInfo{ID: "n2", Addr: "h:1", DataAddr: "h:2"}}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded RegisterRequest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Node != req.Node {
		t.Errorf("Node = %+v, want %+v", decoded.Node, req.Node)
	}
}

func TestRegisterResponseRoundTrip(t *testing.T) {
	resp := RegisterResponse{
		NodeIndex: 2,
		NumNodes:  3,
		Members: []NodeInfo{
			{ID: "n0", Addr: "a0"},
			{ID: "n1", Addr: "a1"},
		},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded RegisterResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.NodeIndex != 2 || decoded.NumNodes != 3 || len(decoded.Members) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestBroadcastRequestPreservesRawPayload(t *testing.T) {
	payload := json.RawMessage(`{"op":"membership","epoch":7}`)
	req := BroadcastRequest{Path: "/cluster/membership", Payload: payload}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded BroadcastRequest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Path != req.Path {
		t.Errorf("Path = %s, want %s", decoded.Path, req.Path)
	}
	if !bytes.Equal(decoded.Payload, req.Payload) {
		t.Errorf("Payload = %s, want %s", decoded.Payload, req.Payload)
	}
}

func TestPostJSON(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		requestBody any
		out         any
		wantErr     bool
	}{
		{"ok with body", http.StatusOK, `{"status":"ok"}`, map[string]string{"a": "b"}, &map[string]string{}, false},
		{"no content, no out", http.StatusNoContent, "", map[string]string{"a": "b"}, nil, false},
		{"server error", http.StatusInternalServerError, `{}`, map[string]string{}, nil, true},
		{"bad request", http.StatusBadRequest, `{}`, map[string]string{}, nil, true},
		{"unmarshalable body", http.StatusOK, `{}`, make(chan int), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s, want POST", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("content-type = %s", ct)
				}
				w.WriteHeader(tt.status)
				if tt.body != "" {
					w.Write([]byte(tt.body))
				}
			}))
			defer srv.Close()

			err := PostJSON(context.Background(), srv.URL, tt.requestBody, tt.out)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostJSONContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	if err := PostJSON(ctx, srv.URL, map[string]string{}, nil); err == nil {
		t.Error("expected timeout error, got nil")
	}
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Write([]byte(`{"value":123}`))
	}))
	defer srv.Close()

	var out map[string]any
	if err := GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out["value"] != float64(123) {
		t.Errorf("value = %v, want 123", out["value"])
	}
}

func TestGetJSONErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var out map[string]any
	if err := GetJSON(context.Background(), srv.URL, &out); err == nil {
		t.Error("expected error for 404, got nil")
	}
}

func TestPostJSONUnreachable(t *testing.T) {
	err := PostJSON(context.Background(), "http://127.0.0.1:1", map[string]string{}, nil)
	if err == nil {
		t.Error("expected error for unreachable server, got nil")
	}
}
