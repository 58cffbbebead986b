package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/eldaeon/sensorhub/internal/adapters/observability"
	"github.com/eldaeon/sensorhub/internal/app/store"
	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

const (
	defaultMinutes = 5
	defaultPoints  = 1000
	maxMinutes     = math.MaxInt64 / int64(time.Minute)
)

// Reader is the store surface served over REST.
type Reader interface {
	ReadCurrent() domain.Snapshot
	ReadHistory(window time.Duration, maxPoints int) domain.History
	ReadStats(window time.Duration) (domain.Stats, error)
	ChannelSeries(c domain.Channel, window time.Duration) ([]time.Time, []float64)
}

type Options struct {
	Store  Reader
	Status func() any
	// Metrics and Stream are optional.
	Metrics http.Handler
	Stream  http.Handler
	Obs     ports.Observability
	Clock   ports.Clock
}

type server struct {
	store  Reader
	status func() any
	clock  ports.Clock
}

// NewRouter mounts every GET route at the root and again under /api.
func NewRouter(opts Options) *mux.Router {
	if opts.Obs == nil {
		opts.Obs = ports.NopObservability{}
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	s := &server{store: opts.Store, status: opts.Status, clock: opts.Clock}

	r := mux.NewRouter()
	r.Use(observability.Middleware(opts.Obs, routeName))

	for _, sub := range []*mux.Router{r, r.PathPrefix("/api").Subrouter()} {
		sub.HandleFunc("/health", s.health).Methods(http.MethodGet)
		sub.HandleFunc("/current", s.current).Methods(http.MethodGet)
		sub.HandleFunc("/history", s.history).Methods(http.MethodGet)
		sub.HandleFunc("/history/{channel}", s.channelHistory).Methods(http.MethodGet)
		sub.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
		if s.status != nil {
			sub.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
		}
		if opts.Metrics != nil {
			sub.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
		}
	}
	if opts.Stream != nil {
		r.Handle("/ws", opts.Stream)
		r.Handle("/ws/stream", opts.Stream)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})
	return r
}

// routeName labels metrics with the route template rather than the raw path.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "other"
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": domain.EpochSeconds(s.clock.Now()),
	})
}

func (s *server) current(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ReadCurrent())
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	window, ok := minutesParam(w, r, defaultMinutes)
	if !ok {
		return
	}
	points, ok := positiveParam(w, r, "points", defaultPoints)
	if !ok {
		return
	}

	h := s.store.ReadHistory(window, points)
	out := make(map[string]any, domain.NumChannels+1)
	out["timestamps"] = epochs(h.Timestamps)
	for _, c := range domain.Channels() {
		out[c.Key()] = h.Series[c]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) channelHistory(w http.ResponseWriter, r *http.Request) {
	c, err := domain.ParseChannel(mux.Vars(r)["channel"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "UNKNOWN_CHANNEL")
		return
	}
	window, ok := minutesParam(w, r, defaultMinutes)
	if !ok {
		return
	}
	points, ok := positiveParam(w, r, "points", defaultPoints)
	if !ok {
		return
	}

	ts, vals := s.store.ChannelSeries(c, window)
	stride := store.Stride(len(ts), points)
	outTS := make([]float64, 0, len(ts)/stride+1)
	outVals := make([]float64, 0, len(ts)/stride+1)
	for i := 0; i < len(ts); i += stride {
		outTS = append(outTS, domain.EpochSeconds(ts[i]))
		outVals = append(outVals, vals[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":    c.Key(),
		"timestamps": outTS,
		"values":     outVals,
	})
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	window, ok := minutesParam(w, r, 0)
	if !ok {
		return
	}

	st, err := s.store.ReadStats(window)
	if errors.Is(err, domain.ErrHistoryEmpty) {
		writeError(w, http.StatusNotFound, "No data available", "NO_DATA")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}

	out := make(map[string]any, len(st.PerChannel)+2)
	for c, cs := range st.PerChannel {
		out[c.Key()] = cs
	}
	out["data_points"] = st.DataPoints
	out["time_range_seconds"] = st.TimeRange.Seconds()
	writeJSON(w, http.StatusOK, out)
}

func (s *server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// positiveParam parses an optional integer query parameter. A missing
// parameter yields def; anything else must be a positive integer.
func positiveParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer", "INVALID_RANGE")
		return 0, false
	}
	return v, true
}

// minutesParam reads the minutes window, rejecting values a Duration cannot hold.
func minutesParam(w http.ResponseWriter, r *http.Request, def int) (time.Duration, bool) {
	minutes, ok := positiveParam(w, r, "minutes", def)
	if !ok {
		return 0, false
	}
	if int64(minutes) > maxMinutes {
		writeError(w, http.StatusBadRequest, "minutes is out of range", "INVALID_RANGE")
		return 0, false
	}
	return time.Duration(minutes) * time.Minute, true
}

func epochs(ts []time.Time) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = domain.EpochSeconds(t)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
