package insights

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"golang.org/x/sync/errgroup"
)

// Batch holds one branch's per-mail outcome, keyed by mail ID.
type Batch[T any] struct {
	Values   map[string]T
	Failures map[string]error
}

// BranchError reports a branch that failed as a whole.
type BranchError struct {
	Branch string
	Err    error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%s branch failed: %v", e.Branch, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }

// fatal reports whether err should abort the whole branch instead of only
// the mail it came from.
func fatal(err error) bool {
	return errors.Is(err, llm.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// runPerMail calls fn for every mail with at most limit calls in flight.
// Per-mail failures are collected; a fatal failure, or every mail failing,
// fails the branch.
func runPerMail[T any](ctx context.Context, branch string, limit int, mails []models.Mail, fn func(context.Context, models.Mail) (T, error)) (*Batch[T], error) {
	out := &Batch[T]{
		Values:   make(map[string]T, len(mails)),
		Failures: make(map[string]error),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, mail := range mails {
		g.Go(func() error {
			v, err := fn(gctx, mail)
			if err != nil {
				if fatal(err) {
					return err
				}
				mu.Lock()
				out.Failures[mail.ID] = err
				mu.Unlock()
				return nil
			}
			mu.Lock()
			out.Values[mail.ID] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &BranchError{Branch: branch, Err: err}
	}
	if len(mails) > 0 && len(out.Failures) == len(mails) {
		return nil, &BranchError{Branch: branch, Err: firstFailure(mails, out.Failures)}
	}
	return out, nil
}

func firstFailure(mails []models.Mail, failures map[string]error) error {
	for _, m := range mails {
		if err, ok := failures[m.ID]; ok {
			return fmt.Errorf("all %d mails failed, first: %w", len(mails), err)
		}
	}
	return errors.New("all mails failed")
}
