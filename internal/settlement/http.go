// http.go - JSON-over-HTTP transport for Settlement and AccountReader.
//
// Every call is a Message envelope POSTed to /v1/settlement; the Type field
// selects the method and Payload carries its arguments. Errors travel as a
// stable code so the client can rebuild the sentinel.

package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
)

// RPCPath is the transport endpoint.
const RPCPath = "/v1/settlement"

const (
	msgFreshness     = "freshness"
	msgCreateContext = "create_context"
	msgPublishProof  = "publish_proof"
	msgCommit        = "reference_and_commit"
	msgCloseContext  = "close_context"
	msgGetAccount    = "get_account"
	msgGetMint       = "get_mint"
	msgGetContext    = "get_context"
)

// Message is the request envelope.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId,omitempty"`
}

// Response is the reply envelope.
type Response struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError carries an error code and message.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createContextPayload struct {
	Request   CreateContextRequest `json:"request"`
	Freshness Freshness            `json:"freshness"`
}

type publishPayload struct {
	Handle    ContextHandle `json:"handle"`
	Proof     []byte        `json:"proof"`
	Freshness Freshness     `json:"freshness"`
}

type commitPayload struct {
	Operation Envelope        `json:"operation"`
	Handles   []ContextHandle `json:"handles"`
	Freshness Freshness       `json:"freshness"`
}

type closePayload struct {
	Handle          ContextHandle   `json:"handle"`
	Authority       balance.Address `json:"authority"`
	RentDestination balance.Address `json:"rent_destination"`
	Freshness       Freshness       `json:"freshness"`
}

type idPayload struct {
	ID balance.Address `json:"id"`
}

// wireErrors maps sentinels to stable codes.
var wireErrors = map[string]error{
	"account_not_found":           ErrAccountNotFound,
	"account_exists":              ErrAccountExists,
	"mint_not_found":              ErrMintNotFound,
	"mint_exists":                 ErrMintExists,
	"mint_mismatch":               ErrMintMismatch,
	"context_exists":              ErrContextExists,
	"context_not_found":           ErrContextNotFound,
	"context_consumed":            ErrContextConsumed,
	"context_empty":               ErrContextEmpty,
	"already_published":           ErrAlreadyPublished,
	"kind_mismatch":               ErrKindMismatch,
	"wrong_authority":             ErrWrongAuthority,
	"missing_proof":               ErrMissingProof,
	"proof_rejected":              ErrProofRejected,
	"stale_freshness":             ErrStaleFreshness,
	"payload_too_large":           ErrPayloadTooLarge,
	"throttled":                   ErrThrottled,
	"unknown_operation":           ErrUnknownOperation,
	"unknown_proof_kind":          proof.ErrUnknownKind,
	"malformed_proof":             proof.ErrMalformedProof,
	"not_configured":              balance.ErrNotConfigured,
	"already_configured":          balance.ErrAlreadyConfigured,
	"insufficient_public_balance": balance.ErrInsufficientPublicBalance,
	"max_pending_credit_counter":  balance.ErrMaxPendingCreditCounter,
	"counter_mismatch":            balance.ErrCounterMismatch,
	"proof_mismatch":              balance.ErrProofMismatch,
	"confidential_credits_off":    balance.ErrConfidentialCreditsDisabled,
	"non_zero_balance":            balance.ErrNonZeroBalance,
	"overflow":                    balance.ErrOverflow,
	"amount_out_of_range":         balance.ErrAmountOutOfRange,
	"counter_limit":               balance.ErrCounterLimit,
}

func toWireError(err error) *WireError {
	for code, sentinel := range wireErrors {
		if errors.Is(err, sentinel) {
			return &WireError{Code: code, Message: err.Error()}
		}
	}
	return &WireError{Code: "internal", Message: err.Error()}
}

func fromWireError(w *WireError) error {
	if sentinel, ok := wireErrors[w.Code]; ok {
		return errors.Wrap(sentinel, w.Message)
	}
	return errors.New(w.Message)
}

// Server exposes a Settlement and AccountReader over HTTP.
type Server struct {
	settlement Settlement
	reader     AccountReader
	log        zerolog.Logger
}

// NewServer creates the transport server.
func NewServer(s Settlement, r AccountReader, log zerolog.Logger) *Server {
	return &Server{settlement: s, reader: r, log: log.With().Str("component", "settlement-http").Logger()}
}

// Handler returns the HTTP handler serving RPCPath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(RPCPath, s.messageHandler)
	return mux
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		s.log.Warn().Err(err).Msg("bad request")
		return
	}
	s.log.Debug().Str("type", msg.Type).Str("sender", msg.SenderID).Msg("received message")

	result, err := s.dispatch(r.Context(), msg)
	var resp Response
	if err != nil {
		resp.Error = toWireError(err)
	} else if result != nil {
		if resp.Payload, err = json.Marshal(result); err != nil {
			resp.Error = toWireError(err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}

func (s *Server) dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case msgFreshness:
		return s.settlement.Freshness(ctx)

	case msgCreateContext:
		var p createContextPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "decode create_context")
		}
		return s.settlement.CreateContext(ctx, p.Request, p.Freshness)

	case msgPublishProof:
		var p publishPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "decode publish_proof")
		}
		pd, err := proof.Decode(p.Proof)
		if err != nil {
			return nil, err
		}
		return nil, s.settlement.PublishProof(ctx, p.Handle, pd, p.Freshness)

	case msgCommit:
		var p commitPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "decode reference_and_commit")
		}
		op, err := UnmarshalOperation(p.Operation)
		if err != nil {
			return nil, err
		}
		return s.settlement.ReferenceAndCommit(ctx, op, p.Handles, p.Freshness)

	case msgCloseContext:
		var p closePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "decode close_context")
		}
		return nil, s.settlement.CloseContext(ctx, p.Handle, p.Authority, p.RentDestination, p.Freshness)

	case msgGetAccount:
		var p idPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "decode get_account")
		}
		return s.reader.GetAccount(ctx, p.ID)

	case msgGetMint:
		var p idPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "decode get_mint")
		}
		return s.reader.GetMint(ctx, p.ID)

	case msgGetContext:
		var p idPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "decode get_context")
		}
		return s.reader.GetContext(ctx, p.ID)

	default:
		return nil, errors.Errorf("unknown message type %q", msg.Type)
	}
}

// Client drives a remote Server.
type Client struct {
	url      string
	senderID string
	http     *http.Client
}

// NewClient targets the server at baseURL (for example http://127.0.0.1:8899).
func NewClient(baseURL, senderID string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{url: baseURL + RPCPath, senderID: senderID, http: hc}
}

var (
	_ Settlement    = (*Client)(nil)
	_ AccountReader = (*Client)(nil)
)

func (c *Client) call(ctx context.Context, typ string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}
	body, err := json.Marshal(Message{Type: typ, Payload: raw, SenderID: c.senderID})
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s", typ)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s: http status %d", typ, resp.StatusCode)
	}
	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return errors.Wrapf(err, "%s: decode response", typ)
	}
	if r.Error != nil {
		return fromWireError(r.Error)
	}
	if out != nil && len(r.Payload) > 0 {
		return errors.Wrapf(json.Unmarshal(r.Payload, out), "%s: decode payload", typ)
	}
	return nil
}

func (c *Client) Freshness(ctx context.Context) (Freshness, error) {
	var f Freshness
	err := c.call(ctx, msgFreshness, struct{}{}, &f)
	return f, err
}

func (c *Client) CreateContext(ctx context.Context, req CreateContextRequest, fresh Freshness) (ContextHandle, error) {
	var h ContextHandle
	err := c.call(ctx, msgCreateContext, createContextPayload{Request: req, Freshness: fresh}, &h)
	return h, err
}

func (c *Client) PublishProof(ctx context.Context, h ContextHandle, pd proof.ProofData, fresh Freshness) error {
	return c.call(ctx, msgPublishProof, publishPayload{Handle: h, Proof: proof.Encode(pd), Freshness: fresh}, nil)
}

func (c *Client) ReferenceAndCommit(ctx context.Context, op Operation, handles []ContextHandle, fresh Freshness) (*CommitReceipt, error) {
	env, err := MarshalOperation(op)
	if err != nil {
		return nil, err
	}
	var receipt CommitReceipt
	if err := c.call(ctx, msgCommit, commitPayload{Operation: env, Handles: handles, Freshness: fresh}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) CloseContext(ctx context.Context, h ContextHandle, authority, rentDestination balance.Address, fresh Freshness) error {
	p := closePayload{Handle: h, Authority: authority, RentDestination: rentDestination, Freshness: fresh}
	return c.call(ctx, msgCloseContext, p, nil)
}

func (c *Client) GetAccount(ctx context.Context, id balance.Address) (*balance.Account, error) {
	var acct balance.Account
	if err := c.call(ctx, msgGetAccount, idPayload{ID: id}, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *Client) GetMint(ctx context.Context, id balance.Address) (*balance.Mint, error) {
	var mint balance.Mint
	if err := c.call(ctx, msgGetMint, idPayload{ID: id}, &mint); err != nil {
		return nil, err
	}
	return &mint, nil
}

func (c *Client) GetContext(ctx context.Context, h ContextHandle) (*ContextInfo, error) {
	var info ContextInfo
	if err := c.call(ctx, msgGetContext, idPayload{ID: h}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
