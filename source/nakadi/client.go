package nakadi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	headerCursors  = "X-Nakadi-Cursors"
	headerStreamID = "X-Nakadi-StreamId"
	headerFlowID   = "X-Flow-Id"
)

// StreamClient opens the long-lived streaming GET. A non-nil response has a
// 2xx status and an open body owned by the caller.
type StreamClient interface {
	OpenStream(ctx context.Context, uri string, header http.Header) (*http.Response, error)
}

// ClientOptions configures an HTTPClient.
type ClientOptions struct {
	BaseURL string
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	// HTTPClient defaults to a client without overall timeout, as streams
	// stay open indefinitely.
	HTTPClient *http.Client
	// ManagementRate limits the non-streaming calls per second; 0 disables
	// the limit.
	ManagementRate float64
	Logger         *slog.Logger
}

// HTTPClient talks to the event bus: the streaming endpoints plus the few
// management calls the cursor managers and the CLI need.
type HTTPClient struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewHTTPClient(opts ClientOptions) (*HTTPClient, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("nakadi: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("nakadi: base url %q must be http or https", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}}
	}
	limit := rate.Inf
	burst := 1
	if opts.ManagementRate > 0 {
		limit = rate.Limit(opts.ManagementRate)
		burst = max(1, int(opts.ManagementRate*2))
	}
	log := opts.Logger
	if log == nil {
		log = discardLogger
	}
	return &HTTPClient{
		base:    base,
		token:   opts.AccessToken,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}, nil
}

// BaseURL is the parsed server location.
func (c *HTTPClient) BaseURL() *url.URL { return c.base }

func (c *HTTPClient) OpenStream(ctx context.Context, uri string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("nakadi: creating stream request: %w", err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	c.decorate(req)
	req.Header.Set("Accept", "application/x-json-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, TransportError("open stream", err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	p := problemFrom(resp)
	_ = resp.Body.Close()
	if retryableStatus(resp.StatusCode) {
		return nil, &Error{Kind: KindTransport, Op: "open stream", Err: p}
	}
	return nil, p
}

// Partitions lists the partitions of an event type.
func (c *HTTPClient) Partitions(ctx context.Context, eventType string) ([]Partition, error) {
	var out []Partition
	err := c.do(ctx, http.MethodGet, "/event-types/"+url.PathEscape(eventType)+"/partitions", nil, nil, &out)
	return out, err
}

// SubscriptionRequest describes the subscription to create or look up.
type SubscriptionRequest struct {
	OwningApplication string   `json:"owning_application"`
	EventTypes        []string `json:"event_types"`
	ConsumerGroup     string   `json:"consumer_group,omitempty"`
	// ReadFrom is "begin" or "end".
	ReadFrom string `json:"read_from,omitempty"`
}

// Subscribe creates a subscription. The server returns the existing one when
// an identical subscription is already registered.
func (c *HTTPClient) Subscribe(ctx context.Context, req SubscriptionRequest) (Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", nil, req, &sub); err != nil {
		return sub, err
	}
	c.log.Info("subscribed", "event_types", sub.EventTypes, "subscription_id", sub.ID)
	return sub, nil
}

type cursorList struct {
	Items []Cursor `json:"items"`
}

// SubscriptionCursors returns the cursors the server committed for a
// subscription.
func (c *HTTPClient) SubscriptionCursors(ctx context.Context, subscriptionID string) ([]Cursor, error) {
	var out cursorList
	err := c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID)+"/cursors", nil, nil, &out)
	return out.Items, err
}

// CommitCursors commits on behalf of the stream that delivered the cursors.
// The server rejects commits whose stream id is gone with 404, 409 or 422;
// those come back as KindStaleStreamIdentity errors.
func (c *HTTPClient) CommitCursors(ctx context.Context, subscriptionID, streamID string, cursors []Cursor) error {
	h := http.Header{}
	h.Set(headerStreamID, streamID)
	err := c.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(subscriptionID)+"/cursors", h, cursorList{Items: cursors}, nil)
	var p *Problem
	if errors.As(err, &p) {
		switch p.Status {
		case http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
			partition := ""
			if len(cursors) == 1 {
				partition = cursors[0].Partition
			}
			return &Error{Kind: KindStaleStreamIdentity, Op: "commit cursor", Partition: partition, Err: p}
		}
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("nakadi: rate limiter: %w", err)
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("nakadi: encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.base.String(), "/")+path, body)
	if err != nil {
		return fmt.Errorf("nakadi: creating request: %w", err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	c.decorate(req)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.log.Debug("request", "method", method, "path", path, "flow_id", req.Header.Get(headerFlowID))

	resp, err := c.http.Do(req)
	if err != nil {
		return TransportError(strings.ToLower(method)+" "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		p := problemFrom(resp)
		if resp.StatusCode >= 500 {
			return &Error{Kind: KindTransport, Op: strings.ToLower(method) + " " + path, Err: p}
		}
		return p
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nakadi: decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.Header.Get(headerFlowID) == "" {
		req.Header.Set(headerFlowID, uuid.NewString())
	}
}
