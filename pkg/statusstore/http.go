package statusstore

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

// Handler serves stored snapshots as JSON:
//
//	GET /exchanges        ids of live exchanges
//	GET /exchanges/{id}   snapshot of one exchange
//
// Snapshot responses carry an ETag so pollers can use If-None-Match.
func Handler(store *Store) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /exchanges", func(w http.ResponseWriter, r *http.Request) {
		ids, err := store.List(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list exchange snapshots")
			http.Error(w, "status store unavailable", http.StatusServiceUnavailable)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, r, ids)
	})

	mux.HandleFunc("GET /exchanges/{id}", func(w http.ResponseWriter, r *http.Request) {
		entry, err := store.Get(r.Context(), r.PathValue("id"))
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "exchange not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to read exchange snapshot")
			http.Error(w, "status store unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, r, entry)
	})

	return mux
}

// writeJSON encodes v and honours If-None-Match against its ETag.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode snapshot", http.StatusInternalServerError)
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(data), 16) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
