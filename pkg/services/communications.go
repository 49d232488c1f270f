package services

import (
	"context"

	"github.com/yosida95/uritemplate/v3"

	"github.com/txn2/academy-client/pkg/transport"
)

const communicationsPath = "/communications"

var communicationReadTmpl = uritemplate.MustNew("/communications/{id}/read")

// CommunicationService sends and reads messages in the active program.
type CommunicationService struct {
	resource[Communication]
}

// NewCommunicationService creates a CommunicationService.
func NewCommunicationService(tc *transport.Client) *CommunicationService {
	return &CommunicationService{newResource[Communication](tc, communicationsPath)}
}

// List returns a page of messages.
func (s *CommunicationService) List(ctx context.Context, p ListParams, opts ...transport.RequestOption) (*transport.Response[Page[Communication]], error) {
	return s.list(ctx, p, opts)
}

// Get returns one message.
func (s *CommunicationService) Get(ctx context.Context, id string, opts ...transport.RequestOption) (*transport.Response[Communication], error) {
	return s.get(ctx, id, opts)
}

// Send delivers a new message.
func (s *CommunicationService) Send(ctx context.Context, req SendRequest) (*transport.Response[Communication], error) {
	resp, err := transport.Post[Communication](ctx, s.tc, communicationsPath, req, transport.NoRetry())
	return invalidated(ctx, s.tc, resp, err, communicationsPath)
}

// MarkRead marks a message as read by the current user.
func (s *CommunicationService) MarkRead(ctx context.Context, id string) (*transport.Response[Communication], error) {
	resp, err := transport.Post[Communication](ctx, s.tc, expand(communicationReadTmpl, "id", id), nil)
	return invalidated(ctx, s.tc, resp, err, communicationsPath)
}
