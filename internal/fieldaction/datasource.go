package fieldaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"formio-api/internal/auth"
	"formio-api/internal/component"
	"formio-api/internal/processor"
	"formio-api/internal/sandbox"
	"formio-api/internal/submission"
)

// maxFetchBody caps datasource responses.
const maxFetchBody = 4 << 20

// FetcherFactory builds datasource fetchers bound to a caller.
type FetcherFactory struct {
	client    *http.Client
	evaluator *sandbox.Evaluator
	secret    []byte
	tokenTTL  time.Duration
}

func NewFetcherFactory(client *http.Client, evaluator *sandbox.Evaluator, secret []byte, tokenTTL time.Duration) *FetcherFactory {
	if client == nil {
		client = http.DefaultClient
	}
	return &FetcherFactory{client: client, evaluator: evaluator, secret: secret, tokenTTL: tokenTTL}
}

func (f *FetcherFactory) For(p *auth.Principal) processor.Fetcher {
	return &Fetcher{factory: f, principal: p}
}

// Fetcher performs the server side request of a datasource component.
type Fetcher struct {
	factory   *FetcherFactory
	principal *auth.Principal
}

func (f *Fetcher) Fetch(ctx context.Context, c *component.Component, data map[string]any) (any, error) {
	cfg := c.Fetch
	if cfg.DataSrc != "" && cfg.DataSrc != "url" {
		return nil, fmt.Errorf("unsupported datasource type %q", cfg.DataSrc)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("datasource %s has no url", c.Key)
	}
	env := map[string]any{"data": data}

	target, err := f.interpolate(ctx, cfg.URL, env)
	if err != nil {
		return nil, fmt.Errorf("interpolate url: %w", err)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if cfg.Body != "" && method != http.MethodGet {
		payload, err := f.interpolate(ctx, cfg.Body, env)
		if err != nil {
			return nil, fmt.Errorf("interpolate body: %w", err)
		}
		body = bytes.NewBufferString(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range cfg.Headers {
		if h.Key == "" {
			continue
		}
		value, err := f.interpolate(ctx, h.Value, env)
		if err != nil {
			return nil, fmt.Errorf("interpolate header %s: %w", h.Key, err)
		}
		req.Header.Set(h.Key, value)
	}
	if cfg.Authenticate {
		token, err := f.token()
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("x-jwt-token", token)
		}
	}

	resp, err := f.factory.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("datasource responded %d", resp.StatusCode)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode datasource response: %w", err)
	}
	return out, nil
}

func (f *Fetcher) interpolate(ctx context.Context, template string, env map[string]any) (string, error) {
	if f.factory.evaluator == nil {
		return template, nil
	}
	return f.factory.evaluator.Interpolate(ctx, template, env)
}

// token forwards the caller's JWT, minting one for principals that
// reached the pipeline without a raw token.
func (f *Fetcher) token() (string, error) {
	if f.principal == nil || f.principal.ID == nil {
		return "", nil
	}
	if f.principal.Token != "" {
		return f.principal.Token, nil
	}
	if len(f.factory.secret) == 0 {
		return "", nil
	}
	token, err := auth.Issue(f.factory.secret, f.principal, f.factory.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue datasource token: %w", err)
	}
	return token, nil
}

// datasourceHooks drop client supplied values of server fetched
// components; only the server fetch may fill them.
func datasourceHooks() submission.FieldHooks {
	strip := func(_ context.Context, c *component.Component, path string, req *submission.Request) error {
		if !c.Trigger.Server {
			return nil
		}
		component.DeleteAll(req.Data(), path)
		return nil
	}
	return submission.FieldHooks{BeforePost: strip, BeforePut: strip}
}
