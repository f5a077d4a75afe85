package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aman879/LotteryDaap/internal/infrastructure/sse"
	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/bank"
	"github.com/aman879/LotteryDaap/internal/lottery/consensus"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

func (s *Server) getRound(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.app.Machine().View())
}

type UpkeepResponse struct {
	UpkeepNeeded   bool             `json:"upkeepNeeded"`
	PerformData    string           `json:"performData"`
	Failed         []string         `json:"failed"`
	State          state.RoundState `json:"state"`
	Players        int              `json:"players"`
	Pot            string           `json:"pot"`
	ElapsedSeconds int64            `json:"elapsedSeconds"`
	At             time.Time        `json:"at"`
}

// checkUpkeep evaluates readiness at ?at= (RFC3339 or unix seconds), or now.
func (s *Server) checkUpkeep(w http.ResponseWriter, r *http.Request) {
	at := s.clock.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "at must be RFC3339 or unix seconds", nil)
			return
		}
		at = parsed
	}
	ready := s.app.Machine().CheckReady(at)
	respondJSON(w, http.StatusOK, UpkeepResponse{
		UpkeepNeeded:   ready.Ready,
		PerformData:    hex.EncodeToString(ready.Failed.Bytes()),
		Failed:         ready.Failed.Names(),
		State:          ready.State,
		Players:        ready.Players,
		Pot:            ready.Pot.Dec(),
		ElapsedSeconds: int64(ready.Elapsed / time.Second),
		At:             at,
	})
}

func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "index must be an integer", nil)
		return
	}
	player, err := s.app.Machine().PlayerAt(index)
	if err != nil {
		if errors.Is(err, state.ErrIndexOutOfRange) {
			respondError(w, http.StatusNotFound, "INDEX_OUT_OF_RANGE", err.Error(), map[string]any{
				"players": s.app.Machine().PlayerCount(),
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"index":  index,
		"player": player,
	})
}

// listEvents pages newest first, or returns everything after ?since= in
// emission order.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 500)
	machine := s.app.Machine()
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "since must be an event sequence number", nil)
			return
		}
		events := machine.EventsSince(since)
		if len(events) > limit {
			events = events[:limit]
		}
		respondJSON(w, http.StatusOK, map[string]any{"events": events, "last_seq": machine.LastEventSeq()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"events":   machine.ListEvents(limit, offset),
		"last_seq": machine.LastEventSeq(),
	})
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "HISTORY_DISABLED", "no history database configured", nil)
		return
	}
	limit, offset := parseLimitOffset(r, 20, 200)
	rounds, err := s.history.ListRounds(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("list rounds")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list rounds", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

func (s *Server) getSettledRound(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, "HISTORY_DISABLED", "no history database configured", nil)
		return
	}
	round, err := strconv.ParseInt(chi.URLParam(r, "round"), 10, 64)
	if err != nil || round <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "round must be a positive integer", nil)
		return
	}
	rd, err := s.history.GetRound(r.Context(), round)
	if err != nil {
		s.logger.Error().Err(err).Int64("round", round).Msg("get round")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load round", nil)
		return
	}
	if rd == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "round not settled", nil)
		return
	}
	respondJSON(w, http.StatusOK, rd)
}

// streamEvents pushes lottery and vrf events as server-sent events. ?topics=
// narrows the stream; ?since= first replays lottery events after that seq.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "STREAM_DISABLED", "event stream not configured", nil)
		return
	}
	var since *uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "since must be an event sequence number", nil)
			return
		}
		since = &v
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		clientID = uuid.NewString()
	}
	var topics []string
	if raw := strings.TrimSpace(r.URL.Query().Get("topics")); raw != "" {
		topics = strings.Split(raw, ",")
	}
	client := sse.NewClient(clientID, topics)
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	_, wantsLottery := client.Topics[sse.EventLottery]
	if since != nil && (len(client.Topics) == 0 || wantsLottery) {
		for _, ev := range s.app.Machine().EventsSince(*since) {
			msg, err := sse.NewMessage(sse.EventLottery, ev)
			if err != nil {
				continue
			}
			writeSSE(w, msg)
		}
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case msg := <-client.MessageChan:
			if msg == nil {
				return
			}
			writeSSE(w, msg)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, msg *sse.Message) {
	payload, _ := json.Marshal(msg)
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	view, err := s.app.Ledger().Account(chi.URLParam(r, "address"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := strconv.ParseUint(chi.URLParam(r, "subId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "subId must be an integer", nil)
		return
	}
	sub, err := s.app.Coordinator().Subscription(subID)
	if err != nil {
		if errors.Is(err, oracle.ErrInvalidSubscription) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) listRequests(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"requests": s.app.Coordinator().PendingRequests()})
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "requestId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "requestId must be an integer", nil)
		return
	}
	req, ok := s.app.Coordinator().Request(id)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "request not pending", nil)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) listOracleEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := parseLimitOffset(r, 100, 500)
	var since uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "since must be an event sequence number", nil)
			return
		}
		since = v
	}
	coord := s.app.Coordinator()
	events := coord.EventsSince(since)
	if len(events) > limit {
		events = events[:limit]
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events, "last_seq": coord.LastEventSeq()})
}

// classifyTxError maps an apply failure to a status and error code.
func classifyTxError(err error) (int, string, map[string]any) {
	var upkeep *state.UpkeepNotNeededError
	switch {
	case errors.As(err, &upkeep):
		return http.StatusConflict, "UPKEEP_NOT_NEEDED", map[string]any{
			"failed":  upkeep.Failed.Names(),
			"players": upkeep.Players,
			"pot":     upkeep.Pot,
			"state":   upkeep.State,
		}
	case errors.Is(err, state.ErrNotEnoughPaid):
		return http.StatusBadRequest, "NOT_ENOUGH_PAID", nil
	case errors.Is(err, state.ErrRoundNotOpen):
		return http.StatusConflict, "ROUND_NOT_OPEN", nil
	case errors.Is(err, consensus.ErrClockSkew):
		return http.StatusBadRequest, "CLOCK_SKEW", nil
	case errors.Is(err, app.ErrTxExpired):
		return http.StatusBadRequest, "TX_EXPIRED", nil
	case errors.Is(err, app.ErrUnauthorized):
		return http.StatusForbidden, "UNAUTHORIZED", nil
	case errors.Is(err, bank.ErrInsufficientFunds):
		return http.StatusBadRequest, "INSUFFICIENT_FUNDS", nil
	case errors.Is(err, oracle.ErrNonexistentRequest), errors.Is(err, state.ErrUnknownOrStaleRequest):
		return http.StatusConflict, "STALE_REQUEST", nil
	case errors.Is(err, oracle.ErrInvalidProof):
		return http.StatusBadRequest, "INVALID_PROOF", nil
	default:
		return http.StatusBadRequest, "TX_REJECTED", nil
	}
}
