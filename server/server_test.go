package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/simoon5769/AugmentOS-sub002/cloud"
	"github.com/simoon5769/AugmentOS-sub002/glasses"
	"github.com/simoon5769/AugmentOS-sub002/utils"
)

func testServer() *Server {
	manager := glasses.NewManager(glasses.DefaultConfig(), nil)
	cloudClient := cloud.NewClient(cloud.Config{})
	return New(":0", manager, cloudClient, utils.NewWebSocketHub())
}

func TestInfo(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/info", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /info = %d, want 200", rec.Code)
	}
	var info InfoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("bad /info body: %v", err)
	}
	if info.Version != Version {
		t.Errorf("version = %q, want %q", info.Version, Version)
	}
}

func TestStatusDefaults(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d, want 200", rec.Code)
	}
	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad /status body: %v", err)
	}
	if status.Pair != "disconnected" {
		t.Errorf("pair = %q, want disconnected", status.Pair)
	}
	if status.Cloud != "disconnected" {
		t.Errorf("cloud = %q, want disconnected", status.Cloud)
	}
	if status.Buffered != 0 {
		t.Errorf("buffered = %d, want 0", status.Buffered)
	}
}

func TestDisplayMethodAndBody(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/display", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /display = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/display", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /display with bad body = %d, want 400", rec.Code)
	}
}

func TestDisplayAccepted(t *testing.T) {
	s := testServer()
	body := `{"view":"normal","layout":{"layoutType":"text_wall","text":"hello"}}`
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/display", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("POST /display = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
}

func TestDisplayCORSPreflight(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/display", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS /display = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestDispatchDisplayDashboard(t *testing.T) {
	manager := glasses.NewManager(glasses.DefaultConfig(), nil)
	var req utils.DisplayRequest
	req.View = "dashboard"
	req.Layout.LayoutType = "double_text_wall"
	req.Layout.TopText = "12:30"
	req.Layout.BottomText = "72F"

	// Dashboard is not the active surface, so the intent is stored without
	// touching the queue.
	if err := DispatchDisplay(manager, req); err != nil {
		t.Fatalf("DispatchDisplay: %v", err)
	}
}
