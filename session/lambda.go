package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
)

// APIGatewayHandler is an API Gateway proxy Lambda handler.
type APIGatewayHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// LambdaRelay attaches an exchange over the proxy request for Relay. Tokens stored
// by the handler are added to the response headers unless the handler set them.
func LambdaRelay(next APIGatewayHandler) APIGatewayHandler {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		ex := &lambdaExchange{req: req, resp: http.Header{}}
		resp, err := next(WithExchange(ctx, ex), req)
		if err != nil {
			return resp, err
		}

		ex.mu.Lock()
		defer ex.mu.Unlock()
		for name := range ex.resp {
			if resp.Headers == nil {
				resp.Headers = map[string]string{}
			}
			if _, set := resp.Headers[name]; !set {
				resp.Headers[name] = ex.resp.Get(name)
			}
		}
		return resp, nil
	}
}

type lambdaExchange struct {
	req  events.APIGatewayProxyRequest
	mu   sync.Mutex
	resp http.Header
}

func (e *lambdaExchange) RequestHeader(name string) []string {
	// API Gateway keeps the sender's casing.
	for k, v := range e.req.MultiValueHeaders {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) && len(v) > 0 {
			return v
		}
	}
	for k, v := range e.req.Headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return []string{v}
		}
	}
	return nil
}

func (e *lambdaExchange) ResponseHeader(name string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resp.Values(name)
}

func (e *lambdaExchange) SetResponseHeader(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resp.Set(name, value)
}
