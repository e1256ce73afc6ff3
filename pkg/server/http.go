package server

import (
	"encoding/json"
	"net/http"

	"github.com/relaykv/relaykv/pkg/binlog"
	"github.com/relaykv/relaykv/pkg/metrics"
)

// NewHTTPHandler builds the hub's HTTP surface: health, replication status,
// the local write entry point, and the metrics endpoint.
func NewHTTPHandler(hub *Hub, reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	mux.HandleFunc("/replication/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.ReplicationState())
	})

	mux.HandleFunc("/write", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Op       string `json:"op"`
			Key      string `json:"key"`
			Value    string `json:"value"`
			ExecTime int32  `json:"exec_time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var op binlog.OpCode
		switch req.Op {
		case "set":
			op = binlog.OpSet
		case "del":
			op = binlog.OpDel
		case "expireat":
			op = binlog.OpExpireAt
		default:
			http.Error(w, "unknown op", http.StatusBadRequest)
			return
		}
		if err := hub.ApplyWrite(op, req.Key, req.Value, req.ExecTime); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("/metrics", reg.Handler())

	return mux
}
