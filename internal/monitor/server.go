package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/CiscoZulfikar/bitget-trade/internal/signal"
)

// Server 提供事件查询与信号注入的本地 HTTP 接口。
type Server struct {
	service *Service
	source  *signal.ChannelSource
	logger  *zap.Logger
	port    int
}

// NewServer 创建监控 HTTP 服务。source 可为 nil，此时不开放注入接口。
func NewServer(service *Service, source *signal.ChannelSource, port int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service: service,
		source:  source,
		logger:  logger,
		port:    port,
	}
}

// Run 启动 HTTP 服务直到 ctx 结束。
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	if s.source != nil {
		mux.HandleFunc("/inject", s.handleInject)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("监控接口已启动", zap.Int("port", s.port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("monitor: http 服务异常退出: %w", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.service.ListEvents(r.Context(), EventType(r.URL.Query().Get("type")), limit)
	if err != nil {
		s.logger.Error("查询事件失败", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.logger.Warn("写出事件失败", zap.Error(err))
	}
}

type injectRequest struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	ReplyContext string `json:"reply_context"`
}

// handleInject 把一条原始消息投进信号源，等价于频道里来了条新消息。
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text 不能为空", http.StatusBadRequest)
		return
	}

	msg := signal.Message{
		ID:           req.ID,
		Text:         req.Text,
		ReplyContext: req.ReplyContext,
	}
	if err := s.source.Submit(r.Context(), msg); err != nil {
		s.logger.Warn("注入信号失败", zap.Error(err))
		http.Error(w, "queue full", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
