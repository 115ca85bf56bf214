package action

import (
	"context"

	"formio-api/internal/apperr"
	"formio-api/internal/auth"
	"formio-api/internal/component"
	"formio-api/internal/model"
	"formio-api/internal/submission"
)

const SecureUpdateName = "secureSubmissionUpdate"

// Message returned for every refused change, whatever the cause.
const incorrectPassword = "Change not allowed: Incorrect password"

var secureUpdateInfo = Info{
	Name:        SecureUpdateName,
	Title:       "Secure Submission Update",
	Description: "Requires the current password before a submission may be changed.",
	Priority:    1,
	Defaults: Defaults{
		Handler: []string{string(submission.HandlerBefore)},
		Method:  []string{string(submission.MethodUpdate)},
	},
}

var secureUpdateDefinition = Definition{
	Info: secureUpdateInfo,
	SettingsForm: func() []map[string]any {
		return []map[string]any{
			{"type": "textfield", "key": "password", "label": "Password field", "validate": map[string]any{"required": true}},
		}
	},
	New: func(deps *Deps, stored *model.Action, _ *submission.Request) (submission.Action, error) {
		a := &SecureUpdateAction{base: newBase(secureUpdateInfo, stored)}
		if err := decodeSettings(stored, &a.settings); err != nil {
			return nil, err
		}
		return a, nil
	},
}

type secureUpdateSettings struct {
	Password string `json:"password"`
}

// SecureUpdateAction refuses updates that do not carry the stored
// password of the configured field.
type SecureUpdateAction struct {
	base
	settings secureUpdateSettings
}

func (a *SecureUpdateAction) Resolve(_ context.Context, _ submission.Handler, method submission.Method, req *submission.Request) error {
	if method != submission.MethodUpdate {
		return nil
	}
	path := a.settings.Password
	if path == "" {
		return apperr.BadRequest("Secure update is missing its password field setting")
	}
	if req.Current == nil {
		return apperr.NotFound("Submission not found.")
	}

	stored, _ := lookupString(req.Current.Data, path)
	supplied := suppliedPassword(req, path)

	if !auth.ComparePassword(stored, supplied) {
		return apperr.Forbidden(incorrectPassword)
	}
	return nil
}

// suppliedPassword prefers the plaintext stashed by the password field
// hook, since the submission data already holds its hash.
func suppliedPassword(req *submission.Request, path string) string {
	if v, ok := req.Get(submission.PlaintextKey(path)); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if req.Submission == nil {
		return ""
	}
	s, _ := lookupString(req.Submission.Data, path)
	if auth.IsHash(s) {
		return ""
	}
	return s
}

func lookupString(data map[string]any, path string) (string, bool) {
	v, ok := component.Get(data, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
