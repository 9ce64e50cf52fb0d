package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/history"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/progress"
)

// HistoryReader lists finished jobs.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	CountByState(ctx context.Context) (map[string]int64, error)
}

type Server struct {
	svc        *compressor.Service
	history    HistoryReader
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	wsMutex   sync.Mutex
	wsClients map[*websocket.Conn]*progress.Subscription
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// CompressImageRequest starts an image job. Omitted options take defaults.
type CompressImageRequest struct {
	Path    string                  `json:"path"`
	JobID   string                  `json:"jobId,omitempty"`
	Wait    bool                    `json:"wait,omitempty"`
	Options media.ImageOptionsInput `json:"options"`
}

type CompressVideoRequest struct {
	Path    string                  `json:"path"`
	JobID   string                  `json:"jobId,omitempty"`
	Wait    bool                    `json:"wait,omitempty"`
	Options media.VideoOptionsInput `json:"options"`
}

type CompressAudioRequest struct {
	Path    string                  `json:"path"`
	JobID   string                  `json:"jobId,omitempty"`
	Wait    bool                    `json:"wait,omitempty"`
	Options media.AudioOptionsInput `json:"options"`
}

type ThumbnailRequest struct {
	Path        string `json:"path"`
	TimestampUs int64  `json:"timeUs"`
	MaxWidth    int    `json:"maxWidth"`
	MaxHeight   int    `json:"maxHeight"`
}

type FilePathRequest struct {
	Extension string `json:"extension"`
}

// WSMessage is written to websocket clients.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(svc *compressor.Service, hist HistoryReader, log *logrus.Logger) *Server {
	s := &Server{
		svc:       svc,
		history:   hist,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]*progress.Subscription),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress/image", s.handleCompressImage).Methods("POST")
	api.HandleFunc("/compress/video", s.handleCompressVideo).Methods("POST")
	api.HandleFunc("/compress/audio", s.handleCompressAudio).Methods("POST")
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs", s.handleCancelAll).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/metadata/{kind}", s.handleMetadata).Methods("GET")
	api.HandleFunc("/thumbnail", s.handleThumbnail).Methods("POST")
	api.HandleFunc("/files/path", s.handleGeneratePath).Methods("POST")
	api.HandleFunc("/files/size", s.handleFileSize).Methods("GET")
	api.HandleFunc("/files/realpath", s.handleRealPath).Methods("GET")
	api.HandleFunc("/cache", s.handleClearCache).Methods("DELETE")
	api.HandleFunc("/cache", s.handleCacheUsage).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")

	// WebSocket endpoint; ?job=<id> follows a single job
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // compress requests with wait=true can run long
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.closeWebSockets()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Statistics()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"availability": s.svc.Availability(r.Context()),
			"running":      s.svc.Registry().IDs(),
			"statistics":   stats.Snapshot(),
			"summary":      stats.GetSummary(),
			"metadata":     s.svc.ExtractorStats(),
			"subscribers":  s.svc.Sink().Subscribers(),
		},
	})
}

func (s *Server) handleCompressImage(w http.ResponseWriter, r *http.Request) {
	var req CompressImageRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, err := req.Options.Resolve()
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.startJob(w, r, req.Wait, compressor.Request{
		JobID: req.JobID, Kind: media.KindImage, SourcePath: req.Path, Image: opts,
	})
}

func (s *Server) handleCompressVideo(w http.ResponseWriter, r *http.Request) {
	var req CompressVideoRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, err := req.Options.Resolve()
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.startJob(w, r, req.Wait, compressor.Request{
		JobID: req.JobID, Kind: media.KindVideo, SourcePath: req.Path, Video: opts,
	})
}

func (s *Server) handleCompressAudio(w http.ResponseWriter, r *http.Request) {
	var req CompressAudioRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, err := req.Options.Resolve()
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.startJob(w, r, req.Wait, compressor.Request{
		JobID: req.JobID, Kind: media.KindAudio, SourcePath: req.Path, Audio: opts,
	})
}

// startJob answers 202 with the job id, or waits for the result when asked.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request, wait bool, req compressor.Request) {
	job, err := s.svc.Start(req)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}

	if !wait {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(APIResponse{
			Success: true,
			Message: "Compression started",
			Data:    map[string]string{"jobId": job.ID()},
		})
		return
	}

	select {
	case <-job.Done():
	case <-r.Context().Done():
		// client went away
		s.svc.Cancel(job.ID())
		return
	}

	res := job.Result()
	if res.Error != nil {
		s.writeMediaError(w, res.Error)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: res})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{Success: true, Data: s.svc.Jobs()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	found := s.svc.Cancel(id)

	message := "Job cancelled"
	if !found {
		message = "No running job with that id"
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: message,
		Data:    map[string]bool{"cancelled": found},
	})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	n := s.svc.CancelAll()
	s.writeJSON(w, APIResponse{Success: true, Data: map[string]int{"cancelled": n}})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	kind, err := media.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	meta, err := s.svc.Metadata(r.Context(), path, kind)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: meta})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	var req ThumbnailRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	out, err := s.svc.CreateVideoThumbnail(r.Context(), req.Path, req.TimestampUs, req.MaxWidth, req.MaxHeight)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: map[string]string{"path": out}})
}

func (s *Server) handleGeneratePath(w http.ResponseWriter, r *http.Request) {
	var req FilePathRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	path, err := s.svc.GenerateFilePath(req.Extension)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: map[string]string{"path": path}})
}

func (s *Server) handleFileSize(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	size, err := s.svc.FileSize(path)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: map[string]int64{"size": size}})
}

func (s *Server) handleRealPath(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.svc.RealPath(r.URL.Query().Get("path"))
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: map[string]string{"path": resolved}})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearCache(); err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Cache cleared"})
}

func (s *Server) handleCacheUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.svc.CacheUsage()
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: usage})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, "Job history is disabled", http.StatusNotFound)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}
	counts, err := s.history.CountByState(r.Context())
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"entries": entries,
			"counts":  counts,
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sink := s.svc.Sink()
	var sub *progress.Subscription
	if jobID := r.URL.Query().Get("job"); jobID != "" {
		sub = sink.SubscribeJob(jobID)
	} else {
		sub = sink.Subscribe()
	}
	defer sink.Unsubscribe(sub)

	s.wsMutex.Lock()
	s.wsClients[conn] = sub
	s.wsMutex.Unlock()

	s.log.WithField("job_id", sub.JobID()).Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// the read loop only detects disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-sub.Events():
			if err := conn.WriteJSON(WSMessage{Type: "progress", Data: ev}); err != nil {
				s.log.Errorf("Failed to write WebSocket message: %v", err)
				return
			}
		case <-sub.Done():
			// replaced by a newer global subscriber
			_ = conn.WriteJSON(WSMessage{Type: "replaced", Data: nil})
			return
		case <-closed:
			return
		}
	}
}

func (s *Server) closeWebSockets() {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	for conn := range s.wsClients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeMediaError maps an error code to an HTTP status.
func (s *Server) writeMediaError(w http.ResponseWriter, err error) {
	code := media.CodeOf(err)

	status := http.StatusInternalServerError
	switch {
	case media.IsCancelled(err):
		status = http.StatusConflict
	case code == media.CodeNotFound:
		status = http.StatusNotFound
	case code == media.CodeInvalidArguments:
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case code == media.CodeDecode, code == media.CodeMetadata, code == media.CodeThumbnail, code == media.CodeCompression:
		status = http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   err.Error(),
		Code:    string(code),
	})
}
