package campusmail

import (
	"context"
	"fmt"

	"github.com/rbaliyan/campusmail/store"
)

// OperationResult contains the result of a single operation within a bulk operation.
type OperationResult struct {
	// ID is the message that was processed.
	ID string
	// Success indicates whether the operation succeeded.
	Success bool
	// Error contains the error if the operation failed (nil if successful).
	Error error
	// Message is the updated message for flag operations (nil for deletes).
	Message *store.Message
}

// BulkResult contains the result of a bulk operation.
// Results are in input order.
type BulkResult struct {
	Results []OperationResult
}

// SuccessCount returns the number of successful operations.
func (r *BulkResult) SuccessCount() int {
	if r == nil {
		return 0
	}
	count := 0
	for _, res := range r.Results {
		if res.Success {
			count++
		}
	}
	return count
}

// FailureCount returns the number of failed operations.
func (r *BulkResult) FailureCount() int {
	if r == nil {
		return 0
	}
	return len(r.Results) - r.SuccessCount()
}

// HasFailures returns true if any operations failed.
func (r *BulkResult) HasFailures() bool {
	return r.FailureCount() > 0
}

// FailedIDs returns the IDs of items that failed.
func (r *BulkResult) FailedIDs() []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, res := range r.Results {
		if !res.Success {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Err returns an error if there are failures, nil otherwise.
func (r *BulkResult) Err() error {
	if !r.HasFailures() {
		return nil
	}
	return &BulkOperationError{Result: r}
}

// BulkOperationError is returned when a bulk operation has partial failures.
type BulkOperationError struct {
	Result *BulkResult
}

func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("campusmail: bulk operation failed for %d of %d messages",
		e.Result.FailureCount(), len(e.Result.Results))
}

// Unwrap returns the individual errors from failed operations.
func (e *BulkOperationError) Unwrap() []error {
	var errs []error
	for _, r := range e.Result.Results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errs
}

// BulkUpdateFlags applies f to each message independently.
// A failure on one message does not stop the others.
func (m *userMailbox) BulkUpdateFlags(ctx context.Context, messageIDs []string, f Flags) (*BulkResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	result := &BulkResult{Results: make([]OperationResult, 0, len(messageIDs))}
	for _, id := range messageIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res := OperationResult{ID: id}
		msg, err := m.UpdateFlags(ctx, id, f)
		if err != nil {
			res.Error = err
		} else {
			res.Success = true
			res.Message = msg
		}
		result.Results = append(result.Results, res)
	}
	return result, result.Err()
}

// BulkDelete deletes each message independently.
func (m *userMailbox) BulkDelete(ctx context.Context, messageIDs []string) (*BulkResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	result := &BulkResult{Results: make([]OperationResult, 0, len(messageIDs))}
	for _, id := range messageIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res := OperationResult{ID: id}
		if err := m.Delete(ctx, id); err != nil {
			res.Error = err
		} else {
			res.Success = true
		}
		result.Results = append(result.Results, res)
	}
	return result, result.Err()
}
