// Package server exposes the daemon's local HTTP/WebSocket surface: status,
// display intents, and a live event stream for the UI.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simoon5769/AugmentOS-sub002/cloud"
	"github.com/simoon5769/AugmentOS-sub002/glasses"
	"github.com/simoon5769/AugmentOS-sub002/utils"
)

const Version = "1.0.0"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type InfoResponse struct {
	Version string `json:"version"`
}

type StatusResponse struct {
	Pair      string                 `json:"pair"`
	Telemetry utils.TelemetryPayload `json:"telemetry"`
	Cloud     string                 `json:"cloud"`
	Buffered  int                    `json:"bufferedAudioFrames"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Server wires HTTP handlers to the manager and cloud client.
type Server struct {
	manager *glasses.Manager
	cloud   *cloud.Client
	hub     *utils.WebSocketHub
	http    *http.Server
}

func New(addr string, manager *glasses.Manager, cloudClient *cloud.Client, hub *utils.WebSocketHub) *Server {
	s := &Server{
		manager: manager,
		cloud:   cloudClient,
		hub:     hub,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/info", corsMiddleware(s.handleInfo))
	mux.HandleFunc("/status", corsMiddleware(s.handleStatus))
	mux.HandleFunc("/display", corsMiddleware(s.handleDisplay))
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Printf("SERVER: listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown() {
	s.http.Close()
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(InfoResponse{Version: Version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tele := s.manager.CurrentTelemetry()
	json.NewEncoder(w).Encode(StatusResponse{
		Pair: s.manager.PairState().String(),
		Telemetry: utils.TelemetryPayload{
			BatteryLevel: tele.BatteryLevel,
			BatteryLeft:  tele.BatteryLeft,
			BatteryRight: tele.BatteryRight,
			CaseOpen:     tele.CaseOpen,
			CaseCharging: tele.CaseCharging,
		},
		Cloud:    s.cloud.Status().String(),
		Buffered: s.cloud.Ring().Len(),
	})
}

// handleDisplay accepts a display intent and routes it to the matching
// surface's view.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "POST required"})
		return
	}

	var req utils.DisplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}

	if err := DispatchDisplay(s.manager, req); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// DispatchDisplay maps a display intent onto the manager's surfaces. The
// same mapping serves intents arriving over HTTP and from the cloud.
func DispatchDisplay(manager *glasses.Manager, req utils.DisplayRequest) error {
	surface := glasses.SurfaceNormal
	if req.View == "dashboard" {
		surface = glasses.SurfaceDashboard
	}
	return manager.Display(surface, glasses.ViewState{
		LayoutType: req.Layout.LayoutType,
		Text:       req.Layout.Text,
		TopText:    req.Layout.TopText,
		BottomText: req.Layout.BottomText,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("SERVER: websocket upgrade failed: %v", err)
		return
	}
	s.hub.AddClient(conn)

	// Reads keep the connection's close handshake alive; clients only
	// consume events.
	go func() {
		defer s.hub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
