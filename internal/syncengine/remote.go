package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/monitoring"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// Remote applies a queued mutation to the remote sync target
type Remote interface {
	ApplyMutation(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error
}

// RemoteFunc adapts a function to Remote
type RemoteFunc func(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error

// ApplyMutation calls f
func (f RemoteFunc) ApplyMutation(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
	return f(ctx, op, entity, payload)
}

// MutationRequest is the body posted to the remote target
type MutationRequest struct {
	Operation types.SyncOperation `json:"operation"`
	Entity    types.EntityKind    `json:"entity"`
	Data      types.Payload       `json:"data"`
}

// HTTPRemote posts mutations to <baseURL>/sync/<entity>
type HTTPRemote struct {
	client  *resty.Client
	tracing *monitoring.TracingManager
}

// NewHTTPRemote creates a remote client. An empty token sends no
// Authorization header.
func NewHTTPRemote(baseURL, token string, timeout time.Duration, tracing *monitoring.TracingManager) *HTTPRemote {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}

	return &HTTPRemote{client: client, tracing: tracing}
}

// ApplyMutation implements Remote. Any transport error or non-2xx answer
// is a remote apply failure.
func (r *HTTPRemote) ApplyMutation(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
	req := r.client.R().
		SetContext(ctx).
		SetBody(MutationRequest{Operation: op, Entity: entity, Data: payload})
	if r.tracing != nil {
		r.tracing.InjectTraceContext(ctx, req.Header)
	}

	details := map[string]interface{}{
		"operation": string(op),
		"entity":    string(entity),
		"id":        payload.ID(),
	}

	resp, err := req.Post("/sync/" + string(entity))
	if err != nil {
		return types.NewRemoteApplyError("remote sync request failed", err, details)
	}
	if resp.IsError() {
		details["status_code"] = resp.StatusCode()
		return types.NewRemoteApplyError(fmt.Sprintf("remote sync rejected with status %d", resp.StatusCode()), nil, details)
	}
	return nil
}

// LoggingRemote accepts every mutation and only logs it. It stands in for
// a backend in standalone deployments.
type LoggingRemote struct {
	logger *logger.Logger
}

// NewLoggingRemote creates a LoggingRemote
func NewLoggingRemote(log *logger.Logger) *LoggingRemote {
	return &LoggingRemote{logger: log}
}

// ApplyMutation implements Remote
func (r *LoggingRemote) ApplyMutation(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
	r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"operation": op,
		"entity":    entity,
		"id":        payload.ID(),
	}).Info("Mutation accepted by logging remote")
	return nil
}
