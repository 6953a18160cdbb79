package httpapi

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter 注册全部路由，外层包 CORS 和访问日志
func NewRouter(h *SyncHandler, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/sync", h.Trigger).Methods(http.MethodPost)
	r.HandleFunc("/api/sync", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/api/sync/scheduler-status", h.SchedulerStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/sync/scheduler/start", h.StartScheduler).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/scheduler/stop", h.StopScheduler).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/export", h.Export).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// 访问日志走 zap
	accessLog := zap.NewStdLog(logger.Named("access")).Writer()
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(handlers.LoggingHandler(accessLog, r))
}
