package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"formio-api/internal/apperr"
	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/submission"
)

const WebhookName = "webhook"

var webhookInfo = Info{
	Name:        WebhookName,
	Title:       "Webhook",
	Description: "Sends the submission to an external URL.",
	Priority:    0,
	Defaults: Defaults{
		Handler: []string{string(submission.HandlerAfter)},
		Method: []string{
			string(submission.MethodCreate),
			string(submission.MethodUpdate),
			string(submission.MethodDelete),
		},
	},
}

var webhookDefinition = Definition{
	Info: webhookInfo,
	SettingsForm: func() []map[string]any {
		return []map[string]any{
			{"type": "textfield", "key": "url", "label": "Request URL", "validate": map[string]any{"required": true}},
			{"type": "textfield", "key": "username", "label": "Authorize User"},
			{"type": "password", "key": "password", "label": "Authorize Password"},
			{"type": "checkbox", "key": "block", "label": "Wait for webhook response before continuing"},
		}
	},
	New: newWebhookAction,
}

type webhookSettings struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Block    bool   `json:"block"`
}

// WebhookAction posts the request and its outcome to a URL.
type WebhookAction struct {
	base
	deps     *Deps
	settings webhookSettings
}

func newWebhookAction(deps *Deps, stored *model.Action, _ *submission.Request) (submission.Action, error) {
	a := &WebhookAction{base: newBase(webhookInfo, stored), deps: deps}
	if err := decodeSettings(stored, &a.settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	u, err := url.Parse(a.settings.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", a.settings.URL)
	}
	return a, nil
}

type webhookPayload struct {
	Request    webhookRequest `json:"request"`
	Response   any            `json:"response,omitempty"`
	Submission any            `json:"submission,omitempty"`
}

type webhookRequest struct {
	Method string         `json:"method"`
	Form   string         `json:"form"`
	Data   map[string]any `json:"data,omitempty"`
}

func (a *WebhookAction) Resolve(ctx context.Context, handler submission.Handler, method submission.Method, req *submission.Request) error {
	payload := webhookPayload{
		Request: webhookRequest{Method: string(method), Form: req.Form.ID.String()},
	}
	if data, ok := req.Payload["data"].(map[string]any); ok {
		payload.Request.Data = component.StripSecrets(req.Components, model.CloneMap(data))
	}
	if req.Response != nil && req.Response.Item != nil {
		payload.Response = req.Response.Item.PublicDocument(req.Components)
	}
	switch {
	case req.Submission != nil:
		payload.Submission = req.Submission.PublicDocument(req.Components)
	case req.Current != nil:
		payload.Submission = req.Current.PublicDocument(req.Components)
	}

	err := a.send(ctx, payload)
	if err == nil {
		return nil
	}
	if a.settings.Block {
		return apperr.BadGateway("Webhook request failed", err)
	}
	a.deps.Log.Warn("webhook failed",
		"form_id", req.Form.ID.String(),
		"method", string(method),
		"handler", string(handler),
		"url", a.settings.URL,
		"error", err.Error(),
	)
	return nil
}

func (a *WebhookAction) send(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.settings.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.settings.Username != "" {
		httpReq.SetBasicAuth(a.settings.Username, a.settings.Password)
	}

	client := a.deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
