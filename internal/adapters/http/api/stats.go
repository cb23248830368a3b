package api

import (
	"net/http"
	"time"
)

// StatsProvider reports service counters such as queue length and stored
// records.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves GET /stats: the provider's counters plus how long the
// API has been up.
type StatsHandler struct {
	statsProvider StatsProvider
	startedAt     time.Time
	now           func() time.Time
}

// NewStatsHandler creates a stats handler whose uptime counts from now.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider, startedAt: time.Now(), now: time.Now}
}

// HandleStats handles GET /stats requests. A nil provider yields only the
// uptime.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]interface{}{}
	if h.statsProvider != nil {
		for k, v := range h.statsProvider.GetStats() {
			out[k] = v
		}
	}
	out["uptimeSeconds"] = h.now().Sub(h.startedAt).Seconds()
	writeJSON(w, http.StatusOK, out)
}
