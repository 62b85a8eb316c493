package tangguh

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// Request is the wire-level call handed to a Transport: a fully resolved URL,
// headers and a serialized body.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the raw transport outcome. Body is fully read so it can be
// shared safely between coalesced callers.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs a single remote call. Implementations must honor ctx
// cancellation and return an error only for transport-level failures; any
// received response, whatever its status, is returned as a *Response.
type Transport interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is the default Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client; nil uses a default client without its own
// timeout, since per-call timeouts are applied via context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

// Call implements Transport.
func (t *HTTPTransport) Call(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	hresp, err := t.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status: hresp.StatusCode,
		Header: hresp.Header,
		Body:   data,
	}, nil
}

// envelope is the fixed response shape every endpoint follows.
type envelope struct {
	Success bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// decodeEnvelope classifies a received response. On success it returns the
// payload; otherwise a *CallError with a normalized code. A bare 204 (or an
// empty 2xx body) is success with an empty payload.
func decodeEnvelope(resp *Response) (json.RawMessage, *CallError) {
	success := resp.Status >= 200 && resp.Status < 300

	if resp.Status == http.StatusNoContent || (success && len(resp.Body) == 0) {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		if success {
			return nil, &CallError{
				Code:    CodeInternal,
				Message: "malformed response envelope",
				Status:  resp.Status,
				Cause:   err,
			}
		}
		// Error statuses without a parseable envelope still classify by status.
		return nil, &CallError{
			Code:       codeFromStatus(resp.Status),
			Message:    http.StatusText(resp.Status),
			Status:     resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if success && env.Success {
		return env.Data, nil
	}

	cerr := &CallError{
		Code:       codeFromStatus(resp.Status),
		Message:    http.StatusText(resp.Status),
		Status:     resp.Status,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	if env.Error != nil {
		cerr.Code = normalizeCode(env.Error.Code, resp.Status)
		if env.Error.Message != "" {
			cerr.Message = env.Error.Message
		}
		cerr.Details = env.Error.Details
	}
	return nil, cerr
}

// classifyTransportError maps a transport-level failure onto the closed code
// set: context expiry is a timeout, everything else a network error.
func classifyTransportError(ctx context.Context, err error) *CallError {
	code := CodeNetworkError
	message := "transport call failed"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		code = CodeTimeout
		message = "transport call timed out"
	} else if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		code = CodeTimeout
		message = "transport call cancelled"
	}
	return &CallError{Code: code, Message: message, Cause: err}
}
