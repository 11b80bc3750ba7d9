package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Wire bodies shared by Remote and Handler.
type initialRequest struct {
	SeatCount int `json:"seatCount"`
}

type initialResponse struct {
	State json.RawMessage `json:"state"`
}

type validateRequest struct {
	State json.RawMessage `json:"state"`
	Move  Move            `json:"move"`
}

type terminalRequest struct {
	State json.RawMessage `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Remote talks to a rules service over HTTP. Games maps to
// POST {baseURL}/rules/{game}/initial|validate|terminal.
type Remote struct {
	baseURL string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

// RemoteOption configures NewRemote.
type RemoteOption func(*Remote)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) { r.timeout = d }
}

// WithRetry sets how many attempts a call makes when the transport fails or
// the service answers with a retryable status.
func WithRetry(max int) RemoteOption {
	return func(r *Remote) { r.retryMax = max }
}

func WithMaxConnsPerHost(n int) RemoteOption {
	return func(r *Remote) { r.http.MaxConnsPerHost = n }
}

// NewRemote talks to a rules service rooted at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 64},
		timeout:  3 * time.Second,
		retryMax: 2,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Game returns an Authority bound to one game type on the remote service.
func (r *Remote) Game(name string) Authority {
	return remoteGame{r: r, name: normalize(name)}
}

// RemoteRegistry builds a registry whose entries all point at the remote service.
func (r *Remote) RemoteRegistry(names ...string) *Registry {
	reg := NewRegistry()
	for _, n := range names {
		reg.Register(n, r.Game(n))
	}
	return reg
}

type remoteGame struct {
	r    *Remote
	name string
}

// All three calls are pure on the service side and are retried on 5xx.
func (g remoteGame) InitialState(ctx context.Context, seatCount int) (json.RawMessage, error) {
	var out initialResponse
	if err := g.r.doJSON(ctx, "/rules/"+g.name+"/initial", initialRequest{SeatCount: seatCount}, &out); err != nil {
		return nil, err
	}
	if len(out.State) == 0 {
		return nil, errors.New("rules service returned empty initial state")
	}
	return out.State, nil
}

func (g remoteGame) Validate(ctx context.Context, state json.RawMessage, move Move) (Verdict, error) {
	var out Verdict
	if err := g.r.doJSON(ctx, "/rules/"+g.name+"/validate", validateRequest{State: state, Move: move}, &out); err != nil {
		return Verdict{}, err
	}
	if out.Accepted && len(out.State) == 0 {
		return Verdict{}, errors.New("rules service accepted a move without a state")
	}
	return out, nil
}

func (g remoteGame) IsTerminal(ctx context.Context, state json.RawMessage) (Outcome, error) {
	var out Outcome
	if err := g.r.doJSON(ctx, "/rules/"+g.name+"/terminal", terminalRequest{State: state}, &out); err != nil {
		return Outcome{}, err
	}
	switch out.Kind {
	case OutcomeNone, OutcomeWin, OutcomeDraw:
	default:
		return Outcome{}, fmt.Errorf("rules service returned unknown outcome %q", out.Kind)
	}
	return out, nil
}

func (r *Remote) doJSON(ctx context.Context, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(r.baseURL + path)
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := r.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.http.DoDeadline(req, resp, r.deadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("rules request failed: %w", err)
		} else {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				return nil
			}
			var e errorResponse
			_ = json.Unmarshal(resp.Body(), &e)
			lastErr = fmt.Errorf("rules service error: status=%d error=%s", status, truncate(e.Error, 256))
			if !shouldRetryStatus(status) {
				return lastErr
			}
		}
		if attempt < attempts {
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (r *Remote) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(r.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		attempt = 5
	}
	return time.Duration(1<<uint(attempt-1)) * 50 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
