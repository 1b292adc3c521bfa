package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wsm-rfid/internal/dispatch"
)

// Server 中继的对外面：websocket 入口 + 出库 HTTP 接口
type Server struct {
	httpServer *http.Server
	hub        *Hub
	matcher    *dispatch.Matcher
	logger     *zap.Logger
}

// NewServer 创建中继服务
func NewServer(addr string, hub *Hub, matcher *dispatch.Matcher, logger *zap.Logger) *Server {
	s := &Server{hub: hub, matcher: matcher, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/v1/parcels/dispatch", s.handleDispatch)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start 启动 HTTP 服务
func (s *Server) Start() error {
	s.logger.Info("relay listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req dispatch.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dispatched, err := s.matcher.Match(r.Context(), req.TagIDs, req.ActorUserID)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNoMatch):
			writeJSONError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, dispatch.ErrNoneEligible):
			writeJSONError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("dispatch failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "dispatch failed")
		}
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		report, err := dispatch.GenerateDispatchReport(dispatched, time.Now())
		if err != nil {
			s.logger.Error("dispatch report generation failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "report generation failed")
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="dispatched-parcels.xlsx"`)
		w.Write(report)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dispatch.DispatchResponse{Dispatched: dispatched})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dispatch.DispatchResponse{Error: msg})
}
