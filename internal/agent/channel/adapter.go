package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/chative-relay/server/internal/agent/model"
)

// ErrBadPayload is returned by Parse when the body cannot be decoded.
var ErrBadPayload = errors.New("channel: malformed webhook payload")

// Request is a webhook as received by the HTTP layer.
type Request struct {
	// URL is the public URL the platform signed, query included.
	URL    string
	Header http.Header
	Body   []byte
	Form   url.Values
}

// Adapter translates one channel's webhooks and send API.
type Adapter interface {
	Channel() model.Channel
	// Verify checks the webhook signature. It returns true without checking
	// when enforcement is off for the deployment.
	Verify(r *Request) bool
	// Parse returns zero or more events; each carries at most one attachment.
	Parse(ctx context.Context, r *Request) ([]model.InboundEvent, error)
	Send(ctx context.Context, routingID, recipientID, text string) error
	// Configured reports whether send credentials are present.
	Configured() bool
}

// InlineReply is a body the webhook response itself can carry.
type InlineReply struct {
	ContentType string
	Body        []byte
}

// InlineReplier is implemented by channels whose webhook response can carry
// the reply synchronously.
type InlineReplier interface {
	InlineReply(text string) InlineReply
}

// MediaAuthorizer decorates media download requests with channel credentials.
type MediaAuthorizer interface {
	AuthorizeMedia(req *http.Request)
}

// SenderInfo is what a channel can tell about a sender beyond the webhook.
type SenderInfo struct {
	Name   string
	Locale string
}

// SenderLookup is implemented by channels that can resolve sender details.
type SenderLookup interface {
	LookupSender(ctx context.Context, senderID string) (SenderInfo, error)
}

// checkResponse turns a non-2xx response into an error carrying a body excerpt.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
}
