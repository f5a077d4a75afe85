package api

import (
	"net/http"
)

// leaderOnly answers 409 NOT_LEADER, with the leader's identity, when this
// node cannot accept writes.
func (s *Server) leaderOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.node.IsLeader() {
			s.respondNotLeader(w, "submit to leader")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondNotLeader(w http.ResponseWriter, message string) {
	respondError(w, http.StatusConflict, "NOT_LEADER", message, map[string]any{
		"leader":    s.node.LeaderAddr(),
		"leader_id": s.node.LeaderNodeID(),
	})
}

func (s *Server) raftStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"node_id":    s.node.ID(),
		"raft_addr":  s.node.RaftAddr(),
		"state":      s.node.State(),
		"leader":     s.node.LeaderAddr(),
		"leader_id":  s.node.LeaderNodeID(),
		"is_leader":  s.node.IsLeader(),
		"raft_stats": s.node.Stats(),
	})
}

// membershipRequest is the body of /v1/raft/join and /v1/raft/remove;
// remove ignores raft_addr.
type membershipRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr,omitempty"`
}

func (s *Server) raftJoin(w http.ResponseWriter, r *http.Request) {
	s.changeMembership(w, r, "JOIN_FAILED", func(req membershipRequest) error {
		return s.node.AddVoter(r.Context(), req.NodeID, req.RaftAddr)
	})
}

func (s *Server) raftRemove(w http.ResponseWriter, r *http.Request) {
	s.changeMembership(w, r, "REMOVE_FAILED", func(req membershipRequest) error {
		return s.node.RemoveServer(r.Context(), req.NodeID)
	})
}

func (s *Server) changeMembership(w http.ResponseWriter, r *http.Request, failCode string, change func(membershipRequest) error) {
	var req membershipRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := change(req); err != nil {
		if isLeadershipErr(err) {
			s.respondNotLeader(w, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, failCode, err.Error(), nil)
		return
	}
	s.logger.Info().Str("node_id", req.NodeID).Str("raft_addr", req.RaftAddr).Str("path", r.URL.Path).Msg("raft membership changed")
	respondJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}
