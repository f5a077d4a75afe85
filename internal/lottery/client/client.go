package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aman879/LotteryDaap/internal/lottery/api"
	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/bank"
	"github.com/aman879/LotteryDaap/internal/lottery/consensus"
	"github.com/aman879/LotteryDaap/internal/lottery/protocol"
	"github.com/aman879/LotteryDaap/internal/lottery/state"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

// APIError is a non-2xx response from a node.
type APIError struct {
	Status   int    `json:"-"`
	Code     string `json:"error"`
	Message  string `json:"message"`
	Leader   string `json:"leader,omitempty"`
	LeaderID string `json:"leader_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap maps error codes back to the sentinels they were produced from.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "NOT_LEADER":
		return consensus.ErrNotLeader
	case "CLOCK_SKEW":
		return consensus.ErrClockSkew
	case "TX_EXPIRED":
		return app.ErrTxExpired
	case "NOT_ENOUGH_PAID":
		return state.ErrNotEnoughPaid
	case "ROUND_NOT_OPEN":
		return state.ErrRoundNotOpen
	case "UPKEEP_NOT_NEEDED":
		return state.ErrUpkeepNotNeeded
	case "INDEX_OUT_OF_RANGE":
		return state.ErrIndexOutOfRange
	case "UNAUTHORIZED":
		return app.ErrUnauthorized
	case "INSUFFICIENT_FUNDS":
		return bank.ErrInsufficientFunds
	default:
		return nil
	}
}

// Client talks to one node's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

type SubmitResponse struct {
	TxID   string     `json:"tx_id"`
	Status string     `json:"status"`
	Result app.Result `json:"result"`
}

func (c *Client) SubmitTx(ctx context.Context, tx protocol.Tx) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/v1/lottery/tx", tx, &out)
	return out, err
}

// Submit lets a remote node serve as a keeper or responder submitter.
func (c *Client) Submit(ctx context.Context, tx protocol.Tx) error {
	_, err := c.SubmitTx(ctx, tx)
	return err
}

func (c *Client) Round(ctx context.Context) (state.RoundView, error) {
	var out state.RoundView
	err := c.do(ctx, http.MethodGet, "/v1/lottery", nil, &out)
	return out, err
}

// Upkeep evaluates readiness at at, or at the node's clock when at is zero.
func (c *Client) Upkeep(ctx context.Context, at time.Time) (api.UpkeepResponse, error) {
	path := "/v1/lottery/upkeep"
	if !at.IsZero() {
		path += "?at=" + url.QueryEscape(at.UTC().Format(time.RFC3339Nano))
	}
	var out api.UpkeepResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Player(ctx context.Context, index int) (string, error) {
	var out struct {
		Player string `json:"player"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/lottery/players/"+strconv.Itoa(index), nil, &out)
	return out.Player, err
}

func (c *Client) Events(ctx context.Context, limit, offset int) ([]state.Event, error) {
	var out struct {
		Events []state.Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/lottery/events?limit=%d&offset=%d", limit, offset), nil, &out)
	return out.Events, err
}

func (c *Client) Account(ctx context.Context, address string) (bank.AccountView, error) {
	var out bank.AccountView
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(address), nil, &out)
	return out, err
}

func (c *Client) Subscription(ctx context.Context, subID uint64) (oracle.SubscriptionView, error) {
	var out oracle.SubscriptionView
	err := c.do(ctx, http.MethodGet, "/v1/vrf/subscriptions/"+strconv.FormatUint(subID, 10), nil, &out)
	return out, err
}

func (c *Client) PendingRequests(ctx context.Context) ([]oracle.Request, error) {
	var out struct {
		Requests []oracle.Request `json:"requests"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/vrf/requests", nil, &out)
	return out.Requests, err
}

func (c *Client) Status(ctx context.Context) (app.Status, error) {
	var out app.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

// Join asks the node to add nodeID as a voter.
func (c *Client) Join(ctx context.Context, nodeID, raftAddr string) error {
	return c.do(ctx, http.MethodPost, "/v1/raft/join", map[string]string{
		"node_id":   nodeID,
		"raft_addr": raftAddr,
	}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_ERROR"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// IsNotLeader reports whether err came from a follower.
func IsNotLeader(err error) bool {
	return errors.Is(err, consensus.ErrNotLeader)
}
