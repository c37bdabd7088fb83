package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/mijia-clock/internal/pkg/aggregator"
	"github.com/anicoll/mijia-clock/internal/pkg/contxt"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
	"github.com/anicoll/mijia-clock/pkg/sockets"
)

var errSyncRunning = errors.New("sync already running")

type snapshotter interface {
	Snapshot() []aggregator.Entry
}

type namer interface {
	DisplayName(addr model.DeviceAddress) string
}

// SyncFunc runs a clock sync and returns the per device results.
type SyncFunc func(ctx context.Context) ([]SyncResult, error)

type DeviceView struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	model.DeviceSummary
}

type SyncResult struct {
	Address   string           `json:"address"`
	Name      string           `json:"name"`
	Result    model.SyncResult `json:"result"`
	Attempts  uint             `json:"attempts,omitempty"`
	Timestamp *uint32          `json:"timestamp,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type LiveMessage struct {
	Type    string           `json:"type"`
	Reading *model.Reading   `json:"reading,omitempty"`
	Event   *model.SyncEvent `json:"event,omitempty"`
}

type server struct {
	devices snapshotter
	names   namer
	syncFn  SyncFunc
	hub     *sockets.Hub
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	last    []SyncResult
}

func New(devices snapshotter, names namer, syncFn SyncFunc) *server {
	s := &server{devices: devices, names: names, syncFn: syncFn, logger: zap.L()}
	s.hub = sockets.New(
		sockets.WithPingInterval(30*time.Second),
		sockets.OnError(func(err error) {
			s.logger.Debug("websocket error", zap.Error(err))
		}),
	)
	return s
}

func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /devices", s.GetDevices)
	mux.HandleFunc("GET /sync", s.GetSync)
	mux.HandleFunc("POST /sync", s.PostSync)
	mux.Handle("GET /ws", s.hub)
	return LoggingMiddleware(mux)
}

// ListenAndServe serves until ctx is done.
func (s *server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = s.hub.Close()
		_ = srv.Shutdown(contxt.NewContext(5 * time.Second))
	}()

	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *server) GetDevices(w http.ResponseWriter, r *http.Request) {
	entries := s.devices.Snapshot()
	out := make([]DeviceView, 0, len(entries))
	for _, e := range entries {
		out = append(out, DeviceView{
			Address:       e.Address.String(),
			Name:          s.names.DisplayName(e.Address),
			DeviceSummary: e.Summary,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) GetSync(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		last = []SyncResult{}
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *server) PostSync(w http.ResponseWriter, r *http.Request) {
	results, err := s.RunSync(r.Context())
	if errors.Is(err, errSyncRunning) {
		handleError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		handleError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// RunSync runs the sync func unless one is already running and keeps the
// results for GET /sync.
func (s *server) RunSync(ctx context.Context) ([]SyncResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, errSyncRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	results, err := s.syncFn(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = results
	s.mu.Unlock()
	return results, nil
}

// PublishReading sends r to every websocket client.
func (s *server) PublishReading(r model.Reading) {
	s.broadcast(LiveMessage{Type: "reading", Reading: &r})
}

func (s *server) PublishEvent(e model.SyncEvent) {
	s.broadcast(LiveMessage{Type: "sync", Event: &e})
}

func (s *server) broadcast(msg LiveMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode live message", zap.Error(err))
		return
	}
	s.hub.Broadcast(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		handleError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func handleError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	w.Write([]byte(err.Error()))
}
