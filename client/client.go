// Package client submits signed operations to an lstd server and reads its
// reporting API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/core/crypto"
	"github.com/marwen-abid/liquidstake-go/core/net"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/query"
)

const (
	defaultTTL   = 2 * time.Minute
	nonceBytes   = 16
	maxErrorBody = 4 << 10
)

// Client talks to one lstd server on behalf of one signer.
type Client struct {
	baseURL    string
	signer     liquidstake.Signer
	httpClient *net.Client
	ttl        time.Duration
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client for network requests.
func WithHTTPClient(client *net.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTTL sets how long a signed submission stays valid (default: 2m).
func WithTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New creates a client for the server at baseURL. signer may be nil for a
// read-only client.
func New(baseURL string, signer liquidstake.Signer, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: net.NewClient(),
		ttl:        defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Owner returns the signer's address.
func (c *Client) Owner() liquidstake.Owner {
	if c.signer == nil {
		return ""
	}
	return liquidstake.Owner(c.signer.PublicKey())
}

// Sign builds a single-use signed submission of op for chain.
func (c *Client) Sign(ctx context.Context, chain liquidstake.ChainID, op liquidstake.Operation) (*liquidstake.SignedOperation, error) {
	if c.signer == nil {
		return nil, errors.NewClientError(errors.SUBMIT_FAILED, "client has no signer", nil)
	}
	encoded, err := liquidstake.EncodeOperation(op)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.GenerateNonce(nonceBytes)
	if err != nil {
		return nil, errors.NewClientError(errors.SUBMIT_FAILED, "failed to generate nonce", err)
	}
	signed := &liquidstake.SignedOperation{
		Chain:     chain,
		Signer:    c.Owner(),
		Nonce:     nonce,
		ExpiresAt: c.now().Add(c.ttl).UTC().Truncate(time.Second),
		Operation: encoded,
	}
	signed.Signature, err = c.signer.SignMessage(ctx, signed.SigningPayload())
	if err != nil {
		return nil, errors.NewClientError(errors.SUBMIT_FAILED, "failed to sign operation", err)
	}
	return signed, nil
}

// Submit signs op and submits it to chain. Retried deliveries of the same
// submission are rejected by the server's nonce check, so a retry after a
// lost response can surface as UNAUTHORIZED even though the first attempt landed.
func (c *Client) Submit(ctx context.Context, chain liquidstake.ChainID, op liquidstake.Operation) error {
	signed, err := c.Sign(ctx, chain, op)
	if err != nil {
		return err
	}
	return c.SubmitSigned(ctx, signed)
}

// SubmitSigned posts an already signed submission.
func (c *Client) SubmitSigned(ctx context.Context, signed *liquidstake.SignedOperation) error {
	body, err := json.Marshal(signed)
	if err != nil {
		return errors.NewClientError(errors.CODEC_ERROR, "failed to encode submission", err)
	}
	resp, err := c.httpClient.Post(ctx, c.baseURL+"/operations", body)
	if err != nil {
		return errors.NewClientError(errors.SUBMIT_FAILED, "submission failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return errors.NewClientError(errors.SUBMIT_FAILED,
			fmt.Sprintf("submission returned status %d", resp.StatusCode), decodeRemoteError(resp))
	}
	return nil
}

func (c *Client) NewLst(ctx context.Context, chain liquidstake.ChainID, token liquidstake.TokenID) error {
	return c.Submit(ctx, chain, liquidstake.NewLst{TokenID: token})
}

func (c *Client) Stake(ctx context.Context, chain liquidstake.ChainID, amount liquidstake.Amount) error {
	return c.Submit(ctx, chain, liquidstake.Stake{Owner: c.Owner(), Amount: amount})
}

func (c *Client) StakeNative(ctx context.Context, chain liquidstake.ChainID, amount liquidstake.Amount, out liquidstake.TokenID) error {
	return c.Submit(ctx, chain, liquidstake.StakeNative{User: c.Owner(), Amount: amount, LstTypeOut: out})
}

func (c *Client) StakeLst(ctx context.Context, chain liquidstake.ChainID, amount liquidstake.Amount, in liquidstake.TokenID) error {
	return c.Submit(ctx, chain, liquidstake.StakeLst{User: c.Owner(), Amount: amount, LstTypeIn: in})
}

func (c *Client) Unstake(ctx context.Context, chain liquidstake.ChainID, amount liquidstake.Amount) error {
	return c.Submit(ctx, chain, liquidstake.Unstake{Owner: c.Owner(), Amount: amount})
}

func (c *Client) Swap(ctx context.Context, chain liquidstake.ChainID, amountIn liquidstake.Amount, in, out liquidstake.TokenID) error {
	return c.Submit(ctx, chain, liquidstake.Swap{User: c.Owner(), AmountIn: amountIn, LstTypeIn: in, LstTypeOut: out})
}

// Status returns the server's network summary.
func (c *Client) Status(ctx context.Context) (query.Status, error) {
	var out query.Status
	err := c.get(ctx, "/status", &out)
	return out, err
}

// Token returns registry membership of token on chain.
func (c *Client) Token(ctx context.Context, chain liquidstake.ChainID, token liquidstake.TokenID) (query.TokenStatus, error) {
	var out query.TokenStatus
	err := c.get(ctx, "/chains/"+url.PathEscape(string(chain))+"/tokens/"+url.PathEscape(string(token)), &out)
	return out, err
}

// StakeBalance returns owner's ledger entry on chain.
func (c *Client) StakeBalance(ctx context.Context, chain liquidstake.ChainID, owner liquidstake.Owner) (query.StakeBalance, error) {
	var out query.StakeBalance
	err := c.get(ctx, "/chains/"+url.PathEscape(string(chain))+"/stakes/"+url.PathEscape(string(owner)), &out)
	return out, err
}

// Reserve returns the custody balance of token.
func (c *Client) Reserve(ctx context.Context, token liquidstake.TokenID) (query.Reserve, error) {
	var out query.Reserve
	err := c.get(ctx, "/reserves/"+url.PathEscape(string(token)), &out)
	return out, err
}

// Settlement returns the settlement for message id.
func (c *Client) Settlement(ctx context.Context, id string) (*liquidstake.Settlement, error) {
	var out liquidstake.Settlement
	if err := c.get(ctx, "/settlements/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settlements lists settlements for the given filters.
func (c *Client) Settlements(ctx context.Context, filters liquidstake.SettlementFilters) ([]*liquidstake.Settlement, error) {
	q := url.Values{}
	if filters.Owner != "" {
		q.Set("owner", string(filters.Owner))
	}
	if filters.Origin != "" {
		q.Set("origin", string(filters.Origin))
	}
	if filters.Destination != "" {
		q.Set("destination", string(filters.Destination))
	}
	if filters.Status != nil {
		q.Set("status", string(*filters.Status))
	}
	if filters.Kind != nil {
		q.Set("kind", string(*filters.Kind))
	}
	if filters.Limit > 0 {
		q.Set("limit", strconv.Itoa(filters.Limit))
	}
	if filters.Offset > 0 {
		q.Set("offset", strconv.Itoa(filters.Offset))
	}
	path := "/settlements"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Settlements []*liquidstake.Settlement `json:"settlements"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Settlements, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.httpClient.Get(ctx, c.baseURL+path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeRemoteError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewClientError(errors.CODEC_ERROR, "failed to decode response", err)
	}
	return nil
}

// decodeRemoteError rebuilds the server's error so errors.Is matches its code.
func decodeRemoteError(resp *net.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var remote struct {
		Error string      `json:"error"`
		Code  errors.Code `json:"code"`
	}
	if err := json.Unmarshal(body, &remote); err != nil || remote.Code == "" {
		return errors.NewClientError(errors.NETWORK_ERROR,
			fmt.Sprintf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	return errors.NewClientError(remote.Code, remote.Error, nil).With("status", resp.StatusCode)
}
