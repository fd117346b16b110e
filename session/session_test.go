package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/docstore/session"
)

func TestTerminal(t *testing.T) {
	var p session.Terminal

	t.Run("no slot", func(t *testing.T) {
		ctx := context.Background()
		p.SetSessionToken(ctx, "7")
		if got := p.SessionToken(ctx); got != "" {
			t.Errorf("expected no token, got %q", got)
		}
	})

	t.Run("slot", func(t *testing.T) {
		ctx := session.NewContext(context.Background())
		if got := p.SessionToken(ctx); got != "" {
			t.Errorf("expected no token, got %q", got)
		}
		p.SetSessionToken(ctx, "7")
		if got := p.SessionToken(ctx); got != "7" {
			t.Errorf("expected %q, got %q", "7", got)
		}
	})

	t.Run("contexts do not share slots", func(t *testing.T) {
		a := session.NewContext(context.Background())
		b := session.NewContext(context.Background())
		p.SetSessionToken(a, "1")
		if got := p.SessionToken(b); got != "" {
			t.Errorf("expected no token, got %q", got)
		}
	})
}

func TestSlot_Concurrent(t *testing.T) {
	var slot session.Slot
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot.Set("x")
			_ = slot.Get()
		}()
	}
	wg.Wait()
	if got := slot.Get(); got != "x" {
		t.Errorf("expected %q, got %q", "x", got)
	}
}

func TestMiddleware_SlotPerRequest(t *testing.T) {
	var p session.Terminal
	var seen []string
	handler := session.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, p.SessionToken(r.Context()))
		p.SetSessionToken(r.Context(), r.URL.Query().Get("token"))
	}))

	for _, token := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?token="+token, nil))
	}

	if expected := []string{"", ""}; !reflect.DeepEqual(seen, expected) {
		t.Errorf("expected %q, got %q", expected, seen)
	}
}

func TestRelay(t *testing.T) {
	tests := []struct {
		name     string
		request  []string
		response []string
		want     string
	}{
		{"none", nil, nil, ""},
		{"from request", []string{"5"}, nil, "5"},
		{"response wins", []string{"5"}, []string{"9"}, "9"},
		{"ambiguous request", []string{"5", "6"}, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p session.Relay
			var got string
			handler := session.RelayMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for _, v := range tt.response {
					w.Header().Add(session.HeaderName, v)
				}
				got = p.SessionToken(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for _, v := range tt.request {
				req.Header.Add(session.HeaderName, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRelay_SetWritesResponseHeader(t *testing.T) {
	var p session.Relay
	var inside string
	handler := session.RelayMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.SetSessionToken(r.Context(), "42")
		inside = p.SessionToken(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(session.HeaderName, "41")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if inside != "42" {
		t.Errorf("expected handler to read %q, got %q", "42", inside)
	}
	if got := rec.Header().Get(session.HeaderName); got != "42" {
		t.Errorf("expected response header %q, got %q", "42", got)
	}
}

func TestRelay_NoExchange(t *testing.T) {
	var p session.Relay
	p.SetSessionToken(context.Background(), "1")
	if got := p.SessionToken(context.Background()); got != "" {
		t.Errorf("expected no token, got %q", got)
	}
}

func TestLambdaRelay(t *testing.T) {
	var p session.Relay

	t.Run("reads request header in any case", func(t *testing.T) {
		var got string
		h := session.LambdaRelay(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			got = p.SessionToken(ctx)
			return events.APIGatewayProxyResponse{StatusCode: 200}, nil
		})

		_, err := h(context.Background(), events.APIGatewayProxyRequest{
			Headers: map[string]string{"X-MS-SESSION-TOKEN": "12"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "12" {
			t.Errorf("expected %q, got %q", "12", got)
		}
	})

	t.Run("adds stored token to response", func(t *testing.T) {
		h := session.LambdaRelay(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			p.SetSessionToken(ctx, "13")
			return events.APIGatewayProxyResponse{StatusCode: 200}, nil
		})

		resp, err := h(context.Background(), events.APIGatewayProxyRequest{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := resp.Headers[http.CanonicalHeaderKey(session.HeaderName)]; got != "13" {
			t.Errorf("expected %q, got %q", "13", got)
		}
	})

	t.Run("keeps handler headers", func(t *testing.T) {
		key := http.CanonicalHeaderKey(session.HeaderName)
		h := session.LambdaRelay(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			p.SetSessionToken(ctx, "13")
			return events.APIGatewayProxyResponse{StatusCode: 200, Headers: map[string]string{key: "explicit"}}, nil
		})

		resp, err := h(context.Background(), events.APIGatewayProxyRequest{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := resp.Headers[key]; got != "explicit" {
			t.Errorf("expected %q, got %q", "explicit", got)
		}
	})

	t.Run("handler error", func(t *testing.T) {
		boom := errors.New("boom")
		h := session.LambdaRelay(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			p.SetSessionToken(ctx, "13")
			return events.APIGatewayProxyResponse{}, boom
		})

		resp, err := h(context.Background(), events.APIGatewayProxyRequest{})
		if !errors.Is(err, boom) {
			t.Errorf("expected handler error, got %v", err)
		}
		if len(resp.Headers) != 0 {
			t.Errorf("expected no headers, got %v", resp.Headers)
		}
	})
}
