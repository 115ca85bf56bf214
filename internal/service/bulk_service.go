package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"formio-api/internal/apperr"
	"formio-api/internal/auth"
	"formio-api/internal/component"
	"formio-api/internal/logger"
	"formio-api/internal/model"
	"formio-api/internal/processor"
	"formio-api/internal/repository"
	"formio-api/internal/submission"
	"formio-api/internal/validator"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Bulk error types
const (
	BulkErrorUnique    = "unique"
	BulkErrorValidator = "validator"
	BulkErrorRequest   = "request"
	BulkErrorStorage   = "storage"
)

// --- DTOs ---

type BulkError struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Details []processor.Error `json:"details,omitempty"`
}

type BulkItem struct {
	OriginalIndex int            `json:"originalIndex"`
	Original      map[string]any `json:"original"`
	ID            string         `json:"_id,omitempty"`
	Errors        []BulkError    `json:"errors,omitempty"`
}

type BulkCreateResult struct {
	InsertedCount int        `json:"insertedCount"`
	Successes     []BulkItem `json:"successes"`
	Failures      []BulkItem `json:"failures"`
}

type BulkUpsertResult struct {
	UpsertedCount int        `json:"upsertedCount"`
	ModifiedCount int        `json:"modifiedCount"`
	Upserted      []BulkItem `json:"upserted"`
	Modified      []BulkItem `json:"modified"`
	Failures      []BulkItem `json:"failures"`
}

// --- Interface ---

type BulkService interface {
	Create(ctx context.Context, formID uuid.UUID, principal *auth.Principal, payload any) (*BulkCreateResult, int, error)
	Upsert(ctx context.Context, formID uuid.UUID, principal *auth.Principal, payload any) (*BulkUpsertResult, int, error)
}

// BulkPreparer runs the before stage of the submission pipeline.
type BulkPreparer interface {
	Prepare(ctx context.Context, op submission.Operation) (*submission.Request, error)
}

type BulkConfig struct {
	MaxItems    int
	Concurrency int
}

type bulkService struct {
	forms       submission.FormSource
	submissions repository.SubmissionRepository
	tx          repository.TransactionManager
	pipeline    BulkPreparer
	cfg         BulkConfig
	log         *logger.Logger
}

func NewBulkService(forms submission.FormSource, submissions repository.SubmissionRepository, tx repository.TransactionManager, pipeline BulkPreparer, cfg BulkConfig, log *logger.Logger) BulkService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &bulkService{
		forms:       forms,
		submissions: submissions,
		tx:          tx,
		pipeline:    pipeline,
		cfg:         cfg,
		log:         log.With("service", "BulkService"),
	}
}

// candidate is one batch entry on its way to storage.
type candidate struct {
	index    int
	original map[string]any
	errors   []BulkError
	sub      *model.Submission
	update   bool
}

func (c *candidate) failed() bool { return len(c.errors) > 0 }

func (c *candidate) item() BulkItem {
	it := BulkItem{OriginalIndex: c.index, Original: c.original, Errors: c.errors}
	if c.sub != nil && !c.failed() {
		it.ID = c.sub.ID.String()
	}
	return it
}

// storageError marks a failed write of an item that passed the before stage.
type storageError struct{ err error }

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

// --- Implementation ---

func (s *bulkService) Create(ctx context.Context, formID uuid.UUID, principal *auth.Principal, payload any) (*BulkCreateResult, int, error) {
	cands, err := s.process(ctx, formID, principal, payload, false)
	if err != nil {
		return nil, 0, err
	}

	res := &BulkCreateResult{Successes: []BulkItem{}, Failures: []BulkItem{}}
	for _, c := range cands {
		if c.failed() {
			res.Failures = append(res.Failures, c.item())
			continue
		}
		res.Successes = append(res.Successes, c.item())
	}
	res.InsertedCount = len(res.Successes)
	return res, bulkStatus(len(res.Successes), len(res.Failures), http.StatusCreated), nil
}

func (s *bulkService) Upsert(ctx context.Context, formID uuid.UUID, principal *auth.Principal, payload any) (*BulkUpsertResult, int, error) {
	cands, err := s.process(ctx, formID, principal, payload, true)
	if err != nil {
		return nil, 0, err
	}

	res := &BulkUpsertResult{Upserted: []BulkItem{}, Modified: []BulkItem{}, Failures: []BulkItem{}}
	for _, c := range cands {
		switch {
		case c.failed():
			res.Failures = append(res.Failures, c.item())
		case c.update:
			res.Modified = append(res.Modified, c.item())
		default:
			res.Upserted = append(res.Upserted, c.item())
		}
	}
	res.UpsertedCount = len(res.Upserted)
	res.ModifiedCount = len(res.Modified)
	return res, bulkStatus(res.UpsertedCount+res.ModifiedCount, len(res.Failures), http.StatusOK), nil
}

// process checks the batch and runs the in-batch unique check. Items that
// survive it are saved concurrently, each in its own transaction together
// with whatever its before actions write. Items already failed are only
// validated so their error list is complete.
func (s *bulkService) process(ctx context.Context, formID uuid.UUID, principal *auth.Principal, payload any, upsert bool) ([]*candidate, error) {
	raw, ok := payload.([]any)
	if !ok || len(raw) == 0 {
		return nil, apperr.BadRequest("Bulk submission payload must be a non-empty array")
	}
	if s.cfg.MaxItems > 0 && len(raw) > s.cfg.MaxItems {
		return nil, apperr.BadRequest("Bulk submission is limited to %d items", s.cfg.MaxItems)
	}

	form, err := s.forms.FindByID(ctx, formID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Form not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("load form: %w", err)
	}
	if form.RevisionsEnabled() {
		return nil, apperr.NotImplemented("Bulk submissions are not supported for forms with submission revisions")
	}
	comps, err := form.ParseComponents()
	if err != nil {
		return nil, fmt.Errorf("parse components: %w", err)
	}

	cands := make([]*candidate, len(raw))
	for i, el := range raw {
		item, ok := el.(map[string]any)
		if !ok {
			return nil, apperr.BadRequest("Bulk item %d must be an object", i)
		}
		if _, ok := item["data"].(map[string]any); !ok {
			return nil, apperr.BadRequest("Bulk item %d has no data object", i)
		}
		cands[i] = &candidate{index: i, original: item}
	}
	markDuplicates(comps, cands)

	// Each goroutine only touches its own candidate.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, c := range cands {
		g.Go(func() error {
			if c.failed() {
				if _, _, err := s.prepareItem(gctx, form, principal, c.original, upsert, true); err != nil {
					c.errors = append(c.errors, itemErrors(err)...)
				}
				return nil
			}
			err := s.tx.RunInTx(gctx, func(txCtx context.Context) error {
				sub, update, err := s.prepareItem(txCtx, form, principal, c.original, upsert, false)
				if err != nil {
					return err
				}
				if err := s.save(txCtx, sub, update); err != nil {
					return &storageError{err: err}
				}
				c.sub, c.update = sub, update
				return nil
			})
			if err != nil {
				var serr *storageError
				if errors.As(err, &serr) {
					s.log.Warn("bulk write failed", "form_id", formID.String(), "index", c.index, "error", serr.err)
				}
				c.sub, c.update = nil, false
				c.errors = append(c.errors, itemErrors(err)...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cands, nil
}

// prepareItem runs the before stage for one item. With dry set only
// validation runs and no document is returned.
func (s *bulkService) prepareItem(ctx context.Context, form *model.Form, principal *auth.Principal, item map[string]any, upsert, dry bool) (*model.Submission, bool, error) {
	op := submission.Operation{
		FormID:    form.ID,
		Method:    submission.MethodCreate,
		Payload:   item,
		Principal: principal,
		DryRun:    dry,
	}
	var id uuid.UUID
	if upsert {
		if rawID, ok := item["_id"].(string); ok && rawID != "" {
			parsed, err := uuid.Parse(rawID)
			if err != nil {
				return nil, false, apperr.BadRequest("Invalid submission id %q", rawID)
			}
			id = parsed
			_, err = s.submissions.FindByID(ctx, form.ID, id)
			switch {
			case err == nil:
				op.Method = submission.MethodUpdate
				op.SubmissionID = id
			case !errors.Is(err, repository.ErrNotFound):
				return nil, false, fmt.Errorf("load submission: %w", err)
			}
		}
	}

	req, err := s.pipeline.Prepare(ctx, op)
	if err != nil || dry {
		return nil, false, err
	}
	if req.SkipResource || req.Submission == nil {
		return nil, false, apperr.BadRequest("Submission was not saved by the form actions")
	}
	sub := req.Submission
	if op.Method == submission.MethodCreate && id != uuid.Nil {
		sub.ID = id
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return sub, op.Method == submission.MethodUpdate, nil
}

func (s *bulkService) save(ctx context.Context, sub *model.Submission, update bool) error {
	if update {
		return s.submissions.Update(ctx, sub)
	}
	return s.submissions.Create(ctx, sub)
}

// markDuplicates flags items sharing a value of a unique component, both
// the first one seen and every later one.
func markDuplicates(comps []*component.Component, cands []*candidate) {
	component.Each(comps, func(c *component.Component, path string) bool {
		if !c.Unique || !c.HasData() || component.InArray(path) {
			return true
		}
		seen := map[string]int{}
		flagged := map[int]bool{}
		for i, cand := range cands {
			data, _ := cand.original["data"].(map[string]any)
			value, ok := component.Get(data, path)
			if !ok || value == nil || value == "" {
				continue
			}
			key := uniqueKey(value)
			first, dup := seen[key]
			if !dup {
				seen[key] = i
				continue
			}
			for _, idx := range []int{first, i} {
				if flagged[idx] {
					continue
				}
				flagged[idx] = true
				cands[idx].errors = append(cands[idx].errors, duplicateError(c, path, value))
			}
		}
		return true
	})
}

func uniqueKey(v any) string {
	if s, ok := v.(string); ok {
		return "s:" + strings.ToLower(strings.TrimSpace(s))
	}
	raw, _ := json.Marshal(v)
	return "j:" + string(raw)
}

func duplicateError(c *component.Component, path string, value any) BulkError {
	msg := c.DisplayLabel() + " must be unique"
	return BulkError{
		Type:    BulkErrorUnique,
		Message: msg,
		Details: []processor.Error{{
			Message: msg,
			Level:   "error",
			Path:    component.Tokens(path),
			Context: processor.ErrorContext{
				Key:       c.Key,
				Label:     c.DisplayLabel(),
				Path:      path,
				Value:     value,
				Validator: "unique",
			},
		}},
	}
}

// itemErrors maps a pipeline failure onto bulk errors.
func itemErrors(err error) []BulkError {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		return []BulkError{{Type: BulkErrorValidator, Message: verr.Error(), Details: verr.Details}}
	}
	var serr *storageError
	if errors.As(err, &serr) {
		return []BulkError{{Type: BulkErrorStorage, Message: storageMessage(serr.err)}}
	}
	return []BulkError{{Type: BulkErrorRequest, Message: apperr.Message(err)}}
}

func storageMessage(err error) string {
	if status, ok := apperr.StatusOf(err); ok && status < http.StatusInternalServerError {
		return apperr.Message(err)
	}
	return "Failed to save submission"
}

// Helper: 2xx on full success, 207 on partial success, 400 otherwise
func bulkStatus(ok, failed, success int) int {
	switch {
	case failed == 0:
		return success
	case ok == 0:
		return http.StatusBadRequest
	default:
		return http.StatusMultiStatus
	}
}
