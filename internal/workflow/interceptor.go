package workflow

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"

	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/provider"
)

// ErrorTypingInterceptor is a Temporal worker interceptor that wraps activity
// errors with the activity name as the error type, and marks errors that a
// retry cannot fix as non-retryable.
type ErrorTypingInterceptor struct {
	interceptor.WorkerInterceptorBase
}

func (e *ErrorTypingInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &errorTypingActivityInterceptor{
		ActivityInboundInterceptorBase: interceptor.ActivityInboundInterceptorBase{},
		next:                           next,
	}
}

type errorTypingActivityInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	next interceptor.ActivityInboundInterceptor
}

func (e *errorTypingActivityInterceptor) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return e.next.Init(outbound)
}

func (e *errorTypingActivityInterceptor) ExecuteActivity(
	ctx context.Context,
	in *interceptor.ExecuteActivityInput,
) (interface{}, error) {
	result, err := e.next.ExecuteActivity(ctx, in)
	if err != nil {
		return result, typeActivityError(activity.GetInfo(ctx).ActivityType.Name, err)
	}
	return result, nil
}

// typeActivityError names err after the activity that returned it. Rejections
// by the provider and errors from a state the OrgApp can no longer leave
// without user action are not retried.
func typeActivityError(activityName string, err error) error {
	// Don't double-wrap errors that already have a type.
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return err
	}
	return temporal.NewApplicationErrorWithOptions(err.Error(), activityName, temporal.ApplicationErrorOptions{
		NonRetryable: permanent(err),
		Cause:        err,
	})
}

func permanent(err error) bool {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return errors.Is(err, provider.ErrNotFound) ||
		errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrInvalidTransition)
}

// activityMessage extracts the message an activity failed with, without the
// Temporal wrapping around it.
func activityMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Message() != "" {
		return appErr.Message()
	}
	return err.Error()
}
