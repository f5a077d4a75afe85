package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/aman879/LotteryDaap/internal/clock"
	"github.com/aman879/LotteryDaap/internal/domain/history"
	"github.com/aman879/LotteryDaap/internal/infrastructure/sse"
	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/consensus"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
)

// Cluster is the replicated node the API submits to.
type Cluster interface {
	ID() string
	RaftAddr() string
	State() string
	LeaderAddr() string
	LeaderNodeID() string
	IsLeader() bool
	Stats() map[string]string
	ApplyTx(ctx context.Context, tx protocol.Tx) (app.Result, error)
	AddVoter(ctx context.Context, nodeID, raftAddr string) error
	RemoveServer(ctx context.Context, nodeID string) error
}

// RoundHistory serves settled rounds from the history store.
type RoundHistory interface {
	ListRounds(ctx context.Context, limit, offset int) ([]*history.SettledRound, error)
	GetRound(ctx context.Context, round int64) (*history.SettledRound, error)
}

type Options struct {
	Hub     *sse.Hub
	Metrics http.Handler
	// History is nil when no database is configured.
	History RoundHistory
	Clock   clock.Clock
	Logger  zerolog.Logger
}

// Server provides HTTP endpoints for the lottery node.
type Server struct {
	node    Cluster
	app     *app.App
	hub     *sse.Hub
	metrics http.Handler
	history RoundHistory
	clock   clock.Clock
	logger  zerolog.Logger
}

func NewServer(node Cluster, application *app.App, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return &Server{
		node:    node,
		app:     application,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		history: opts.History,
		clock:   opts.Clock,
		logger:  opts.Logger.With().Str("service", "api").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1/lottery", func(r chi.Router) {
		// streams must not be cut by the request timeout
		r.Get("/events/stream", s.streamEvents)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.With(s.leaderOnly).Post("/tx", s.submitTx)
			r.Get("/", s.getRound)
			r.Get("/upkeep", s.checkUpkeep)
			r.Get("/players/{index}", s.getPlayer)
			r.Get("/events", s.listEvents)
			r.Get("/rounds", s.listRounds)
			r.Get("/rounds/{round}", s.getSettledRound)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/v1/status", s.status)
		r.Get("/v1/accounts/{address}", s.getAccount)
		r.Route("/v1/vrf", func(r chi.Router) {
			r.Get("/subscriptions/{subId}", s.getSubscription)
			r.Get("/requests", s.listRequests)
			r.Get("/requests/{requestId}", s.getRequest)
			r.Get("/events", s.listOracleEvents)
		})
		r.Route("/v1/raft", func(r chi.Router) {
			r.Get("/", s.raftStatus)
			r.With(s.leaderOnly).Post("/join", s.raftJoin)
			r.With(s.leaderOnly).Post("/remove", s.raftRemove)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"nodeId":   s.node.ID(),
		"state":    s.node.State(),
		"leader":   s.node.LeaderAddr(),
		"leaderId": s.node.LeaderNodeID(),
		"time":     s.clock.Now().UTC(),
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.app.Status())
}

func (s *Server) submitTx(w http.ResponseWriter, r *http.Request) {
	var tx protocol.Tx
	if err := decodeBody(r, &tx); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	res, err := s.node.ApplyTx(r.Context(), tx)
	if err != nil {
		if isLeadershipErr(err) {
			s.respondNotLeader(w, err.Error())
			return
		}
		status, code, extra := classifyTxError(err)
		s.logger.Debug().Err(err).Str("tx_id", tx.TxID).Str("op", string(tx.Op)).Str("code", code).Msg("tx rejected")
		respondError(w, status, code, err.Error(), extra)
		return
	}
	status := "APPLIED"
	if res.Replayed {
		status = "REPLAYED"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tx_id":  tx.TxID,
		"status": status,
		"result": res,
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseLimitOffset reads ?limit and ?offset, clamping limit to
// [1, maxLimit]. Malformed values fall back to the defaults.
func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := queryInt(r, "limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	return min(limit, maxLimit), max(queryInt(r, "offset", 0), 0)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	out := map[string]any{
		"error":   code,
		"message": message,
	}
	for k, v := range extra {
		out[k] = v
	}
	respondJSON(w, status, out)
}

func isLeadershipErr(err error) bool {
	return errors.Is(err, consensus.ErrNotLeader) ||
		errors.Is(err, raft.ErrNotLeader) ||
		errors.Is(err, raft.ErrLeadershipLost) ||
		errors.Is(err, raft.ErrLeadershipTransferInProgress)
}
