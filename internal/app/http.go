package app

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/accrual"
	"YieldAccrual/internal/scheduler"
)

// Handler serves /metrics and /derived?account=<id>. Without an account
// parameter /derived answers for defaultAccount.
func (a *App) Handler(m *scheduler.Manager, defaultAccount string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.HandleFunc("/derived", func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("account")
		if account == "" {
			account = defaultAccount
		}
		s, ok := m.Get(account)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session for account"})
			return
		}
		d, err := s.Derived()
		if err != nil {
			writeJSON(w, statusFor(err), map[string]string{
				"error":  err.Error(),
				"status": string(s.Status()),
			})
			return
		}
		writeJSON(w, http.StatusOK, d)
	})
	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrNoAccrual), errors.Is(err, scheduler.ErrNoBaseline):
		return http.StatusConflict
	case errors.Is(err, accrual.ErrLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, scheduler.ErrSessionClosed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("write response")
	}
}
