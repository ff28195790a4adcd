package relay

import (
	"encoding/json"
	"net/http"
)

// HandleStats 输出 Hub 的运行指标
// GET /stats
func (h *Hub) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload := map[string]any{
		"hub":     h.Stats(),
		"metrics": h.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// Handler 中继的 HTTP 路由：/stats、/healthz，其余路径全部升级为 WebSocket
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", h.HandleWS)
	return mux
}
