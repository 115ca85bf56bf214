package fieldaction

import (
	"context"
	"fmt"

	"formio-api/internal/auth"
	"formio-api/internal/component"
	"formio-api/internal/submission"
)

// passwordHooks store bcrypt hashes instead of plaintext and never return
// the stored hash.
func passwordHooks() submission.FieldHooks {
	hash := func(_ context.Context, _ *component.Component, path string, req *submission.Request) error {
		if req.Submission == nil {
			return nil
		}
		data := req.Submission.Data
		paths := component.Expand(data, path)
		if len(paths) == 0 && !component.InArray(path) {
			paths = []string{path}
		}
		for _, p := range paths {
			value, _ := component.Get(data, p)
			plain, _ := value.(string)
			switch {
			case plain == "":
				keepStored(req, data, p)
			case isStoredHash(req, p, plain):
				// The stored hash sent back unchanged.
			default:
				req.Put(submission.PlaintextKey(p), plain)
				hashed, err := auth.HashPassword(plain)
				if err != nil {
					return fmt.Errorf("hash password: %w", err)
				}
				component.Set(data, p, hashed)
			}
		}
		return nil
	}
	strip := func(_ context.Context, _ *component.Component, path string, req *submission.Request) error {
		eachResponseData(req, func(data map[string]any) { component.DeleteAll(data, path) })
		return nil
	}
	return submission.FieldHooks{
		BeforePost: hash,
		BeforePut:  hash,
		AfterGet:   strip,
		AfterPost:  strip,
		AfterPut:   strip,
		AfterIndex: strip,
	}
}

func isStoredHash(req *submission.Request, path, value string) bool {
	if req.Current == nil || !auth.IsHash(value) {
		return false
	}
	stored, _ := component.Get(req.Current.Data, path)
	return stored == value
}

// keepStored leaves the current hash in place when an update sends no
// new password.
func keepStored(req *submission.Request, data map[string]any, path string) {
	if req.Current != nil {
		if stored, ok := component.Get(req.Current.Data, path); ok {
			component.Set(data, path, stored)
			return
		}
	}
	component.Delete(data, path)
}
