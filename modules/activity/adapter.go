package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// ActivityPort defines the interface for reading inboxes.
type ActivityPort interface {
	GetInbox(ctx context.Context, userID string) ([]InboxEntry, error)
}

// activityAdapter implements ActivityPort using the service container.
type activityAdapter struct {
	container mono.ServiceContainer
}

// NewActivityAdapter creates a new adapter for the activity service.
func NewActivityAdapter(container mono.ServiceContainer) ActivityPort {
	return &activityAdapter{container: container}
}

// GetInbox retrieves a user's inbox.
func (a *activityAdapter) GetInbox(ctx context.Context, userID string) ([]InboxEntry, error) {
	req := GetInboxRequest{UserID: userID}
	var resp GetInboxResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceGetInbox,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("%s service call failed: %w", ServiceGetInbox, err)
	}
	return resp.Entries, nil
}
