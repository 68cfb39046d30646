package constituent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cuemby/quorum/pkg/types"
)

// RequestVotePath is the privileged vote endpoint.
const RequestVotePath = "/_api/agency_priv/requestVote"

// Transport issues vote requests to peers. Implementations must honor the
// context deadline; a request still outstanding at the deadline is counted
// as a denied vote by the caller.
type Transport interface {
	RequestVote(ctx context.Context, endpoint string, req types.VoteRequest) (types.VoteResponse, error)
}

// HTTPTransport implements Transport over plain HTTP.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with a shared client. Per-request
// deadlines come from the caller's context.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{}}
}

// RequestVote performs GET <endpoint>/_api/agency_priv/requestVote with the
// candidate's term and log position as query parameters.
func (t *HTTPTransport) RequestVote(ctx context.Context, endpoint string, req types.VoteRequest) (types.VoteResponse, error) {
	var resp types.VoteResponse

	q := url.Values{}
	q.Set("term", strconv.FormatUint(req.Term, 10))
	q.Set("candidateId", req.CandidateID)
	q.Set("prevLogIndex", strconv.FormatUint(req.PrevLogIndex, 10))
	q.Set("prevLogTerm", strconv.FormatUint(req.PrevLogTerm, 10))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+RequestVotePath+"?"+q.Encode(), nil)
	if err != nil {
		return resp, fmt.Errorf("failed to build vote request: %w", err)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return resp, fmt.Errorf("vote request to %s failed: %w", endpoint, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("vote request to %s returned status %d", endpoint, httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("failed to decode vote response from %s: %w", endpoint, err)
	}
	return resp, nil
}
