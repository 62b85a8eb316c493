package tangguh

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTransportRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Custom"); got != "yes" {
			t.Errorf("expected header X-Custom=yes, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"x"}` {
			t.Errorf("expected body forwarded, got %s", body)
		}
		w.Header().Set("X-Reply", "ok")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":{"id":1}}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(nil)
	resp, err := tr.Call(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/items",
		Header: http.Header{"X-Custom": {"yes"}},
		Body:   []byte(`{"name":"x"}`),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.Status)
	}
	if resp.Header.Get("X-Reply") != "ok" {
		t.Errorf("expected response headers captured, got %v", resp.Header)
	}
	if string(resp.Body) != `{"success":true,"data":{"id":1}}` {
		t.Errorf("expected body captured, got %s", resp.Body)
	}
}

func TestHTTPTransportHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tr := NewHTTPTransport(nil)
	_, err := tr.Call(ctx, &Request{Method: http.MethodGet, URL: srv.URL})
	if err == nil {
		t.Fatal("expected error on expired context")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		resp     *Response
		wantData string
		wantCode ErrorCode
		wantMsg  string
	}{
		{
			name:     "success with payload",
			resp:     &Response{Status: 200, Body: []byte(`{"success":true,"data":{"id":7}}`)},
			wantData: `{"id":7}`,
		},
		{
			name: "no content",
			resp: &Response{Status: 204},
		},
		{
			name: "empty 2xx body",
			resp: &Response{Status: 200},
		},
		{
			name:     "envelope error with known code",
			resp:     &Response{Status: 422, Body: []byte(`{"success":false,"error":{"code":"validation","message":"name is required"}}`)},
			wantCode: CodeValidation,
			wantMsg:  "name is required",
		},
		{
			name:     "envelope error with unknown code falls back to status",
			resp:     &Response{Status: 409, Body: []byte(`{"success":false,"error":{"code":"WEIRD","message":"already exists"}}`)},
			wantCode: CodeConflict,
			wantMsg:  "already exists",
		},
		{
			name:     "error status without envelope",
			resp:     &Response{Status: 503, Body: []byte("service unavailable")},
			wantCode: CodeInternal,
			wantMsg:  "Service Unavailable",
		},
		{
			name:     "malformed 2xx body",
			resp:     &Response{Status: 200, Body: []byte("{not json")},
			wantCode: CodeInternal,
			wantMsg:  "malformed response envelope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, cerr := decodeEnvelope(tt.resp)
			if tt.wantCode == "" {
				if cerr != nil {
					t.Fatalf("expected success, got %v", cerr)
				}
				if string(data) != tt.wantData {
					t.Errorf("expected data %q, got %q", tt.wantData, data)
				}
				return
			}
			if cerr == nil {
				t.Fatal("expected an error")
			}
			if cerr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, cerr.Code)
			}
			if cerr.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, cerr.Message)
			}
			if cerr.Status != tt.resp.Status {
				t.Errorf("expected status %d, got %d", tt.resp.Status, cerr.Status)
			}
		})
	}
}

func TestDecodeEnvelopeCarriesDetailsAndRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "5")
	data, cerr := decodeEnvelope(&Response{
		Status: 429,
		Header: header,
		Body:   []byte(`{"success":false,"error":{"code":"rate-limited","message":"slow down","details":{"limit":100}}}`),
	})
	if data != nil {
		t.Error("expected no payload")
	}
	if cerr == nil {
		t.Fatal("expected an error")
	}
	if cerr.Code != CodeRateLimited {
		t.Errorf("expected rate-limited, got %s", cerr.Code)
	}
	if cerr.RetryAfter != 5*time.Second {
		t.Errorf("expected 5s retry hint, got %v", cerr.RetryAfter)
	}
	if string(cerr.Details) != `{"limit":100}` {
		t.Errorf("expected details preserved, got %s", cerr.Details)
	}
}

func TestClassifyTransportError(t *testing.T) {
	background := context.Background()

	expired, cancelExpired := context.WithTimeout(background, time.Nanosecond)
	defer cancelExpired()
	<-expired.Done()

	cancelled, cancel := context.WithCancel(background)
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want ErrorCode
	}{
		{"deadline in error chain", background, context.DeadlineExceeded, CodeTimeout},
		{"deadline on context", expired, errors.New("opaque"), CodeTimeout},
		{"cancellation", cancelled, errors.New("opaque"), CodeTimeout},
		{"plain network failure", background, errors.New("connection refused"), CodeNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cerr := classifyTransportError(tt.ctx, tt.err)
			if cerr.Code != tt.want {
				t.Errorf("expected %s, got %s", tt.want, cerr.Code)
			}
			if !errors.Is(cerr, tt.err) {
				t.Error("expected the cause preserved")
			}
		})
	}
}
