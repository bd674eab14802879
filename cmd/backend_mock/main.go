// Command backend_mock serves the two location endpoints from memory so the
// tracker can be run locally without the real backend.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"collection-tracker/internal/backend"
	"collection-tracker/internal/model"
)

type store struct {
	mu   sync.RWMutex
	last *model.LocationUpdate
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	logger := logrus.New()
	s := &store{}

	mux := http.NewServeMux()
	mux.HandleFunc(backend.UpdateLocationPath, withAuth(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
			return
		}
		var in model.LocationUpdate
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid JSON"})
			return
		}
		if err := (model.GeoPosition{Latitude: in.Latitude, Longitude: in.Longitude}).Valid(); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
			return
		}

		s.mu.Lock()
		s.last = &in
		s.mu.Unlock()

		logger.WithFields(logrus.Fields{"latitude": in.Latitude, "longitude": in.Longitude}).Info("received collector location")
		writeJSON(w, http.StatusOK, map[string]any{"message": "location updated", "data": in})
	}))

	mux.HandleFunc(backend.CollectorPath, withAuth(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		last := s.last
		s.mu.RUnlock()

		if last == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no collector location yet"})
			return
		}
		writeJSON(w, http.StatusOK, last)
	}))

	logger.Infof("backend mock listening on %s", *addr)
	logger.Fatal(http.ListenAndServe(*addr, mux))
}

func withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing bearer token"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
