package relaycache

import (
	"encoding/json"
	"net/http"

	"github.com/relaycache/relaycache/journal"

	"github.com/go-chi/chi/v5"
)

// AdminHandler serves the operational endpoints: liveness and journal
// aggregates. It runs on its own listener, separate from the proxy port.
func AdminHandler(j *journal.Journal) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := j.Stats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
	return r
}
