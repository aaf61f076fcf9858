package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// LimiterAdapter checks publish rates through the ratelimit module's service.
type LimiterAdapter struct {
	container mono.ServiceContainer
}

// NewLimiterAdapter creates a new adapter for the rate check service.
func NewLimiterAdapter(container mono.ServiceContainer) *LimiterAdapter {
	if container == nil {
		panic("ratelimit adapter requires a non-nil ServiceContainer")
	}
	return &LimiterAdapter{container: container}
}

// Allow reports whether key may publish now.
func (a *LimiterAdapter) Allow(ctx context.Context, key string) (bool, error) {
	req := CheckRequest{Key: key}
	var resp Result
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceCheckPublishRate,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return false, fmt.Errorf("%s request failed: %w", ServiceCheckPublishRate, err)
	}
	return resp.Allowed, nil
}
