package submission

import (
	"encoding/json"

	"formio-api/internal/apperr"
	"formio-api/internal/model"

	"github.com/google/uuid"
)

type body struct {
	data     map[string]any
	metadata map[string]any
	owner    *uuid.UUID
	access   []model.AccessEntry
}

// whitelist keeps the client-writable fields of a write payload.
func whitelist(payload map[string]any) (body, error) {
	var b body
	if payload == nil {
		return b, nil
	}
	if raw, ok := payload["data"]; ok && raw != nil {
		data, ok := raw.(map[string]any)
		if !ok {
			return b, apperr.BadRequest("Submission data must be an object")
		}
		b.data = model.CloneMap(data)
	}
	if raw, ok := payload["metadata"].(map[string]any); ok {
		b.metadata = model.CloneMap(raw)
	}
	if raw, ok := payload["owner"].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return b, apperr.BadRequest("Invalid owner id")
		}
		b.owner = &id
	}
	if raw, ok := payload["access"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return b, apperr.BadRequest("Invalid access list")
		}
		if err := json.Unmarshal(encoded, &b.access); err != nil {
			return b, apperr.BadRequest("Invalid access list")
		}
		if b.access == nil {
			b.access = []model.AccessEntry{}
		}
	}
	return b, nil
}

var permissions = map[Method]string{
	MethodCreate: "create",
	MethodRead:   "read",
	MethodIndex:  "read",
	MethodUpdate: "update",
	MethodDelete: "delete",
}

// authorize applies the form's submissionAccess rules. Forms without
// rules are open; admins and internal operations bypass the check.
func authorize(req *Request) error {
	if req.Internal || req.Principal.Admin || len(req.Form.SubmissionAccess) == 0 {
		return nil
	}
	perm := permissions[req.Method]
	principal := req.Principal

	if principal.HasRole(req.Form.Permission(perm + "_all")...) {
		return nil
	}
	if principal.ID != nil && principal.HasRole(req.Form.Permission(perm+"_own")...) {
		switch req.Method {
		case MethodCreate:
			return nil
		case MethodIndex:
			req.OwnerScope = principal.ID
			return nil
		default:
			if req.Current != nil && req.Current.Owner != nil && *req.Current.Owner == *principal.ID {
				return nil
			}
		}
	}
	if principal.ID == nil {
		return apperr.Unauthorized("Unauthorized")
	}
	return apperr.Forbidden("You do not have permission to perform this action")
}
