package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chative-relay/server/internal/agent/model"
	logx "github.com/chative-relay/server/pkg/logger"
)

const (
	messengerSignatureHeader = "X-Hub-Signature-256"
	messengerSignaturePrefix = "sha256="
)

// Messenger handles Facebook Messenger page webhooks (JSON) and the Send API.
type Messenger struct {
	cfg     model.MessengerConfig
	enforce bool
	client  *http.Client
}

type MessengerOption func(*Messenger)

func WithMessengerHTTPClient(c *http.Client) MessengerOption {
	return func(m *Messenger) { m.client = c }
}

func NewMessenger(cfg model.MessengerConfig, enforceSignature bool, opts ...MessengerOption) *Messenger {
	m := &Messenger{
		cfg:     cfg,
		enforce: enforceSignature,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Messenger) Channel() model.Channel { return model.ChannelMessenger }

func (m *Messenger) Configured() bool { return m.cfg.PageAccessToken != "" }

// Verify checks X-Hub-Signature-256 against HMAC-SHA256(appSecret, body).
func (m *Messenger) Verify(r *Request) bool {
	if !m.enforce {
		return true
	}
	if m.cfg.AppSecret == "" {
		logx.Error().Msg("messenger signature enforcement is on but MESSENGER_APP_SECRET is empty")
		return false
	}
	sig := r.Header.Get(messengerSignatureHeader)
	if !strings.HasPrefix(sig, messengerSignaturePrefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(m.cfg.AppSecret))
	mac.Write(r.Body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(sig, messengerSignaturePrefix)), []byte(computed))
}

// VerifyHandshake answers the subscription challenge. ok is false when the
// token does not match.
func (m *Messenger) VerifyHandshake(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && m.cfg.VerifyToken != "" &&
		hmac.Equal([]byte(token), []byte(m.cfg.VerifyToken)) {
		return challenge, true
	}
	return "", false
}

type messengerPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string             `json:"id"`
		Time      int64              `json:"time"`
		Messaging []messengerMessage `json:"messaging"`
	} `json:"entry"`
}

type messengerMessage struct {
	Sender    struct{ ID string } `json:"sender"`
	Recipient struct{ ID string } `json:"recipient"`
	Timestamp int64               `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

// Parse flattens entry[].messaging[] into events. Deliveries, reads, echoes
// and messages with neither text nor attachment are skipped.
func (m *Messenger) Parse(_ context.Context, r *Request) ([]model.InboundEvent, error) {
	var p messengerPayload
	if err := json.Unmarshal(r.Body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	var events []model.InboundEvent
	for _, entry := range p.Entry {
		for _, msg := range entry.Messaging {
			if msg.Message == nil || msg.Message.IsEcho || msg.Sender.ID == "" {
				continue
			}
			ev := model.InboundEvent{
				Channel:    model.ChannelMessenger,
				MessageID:  msg.Message.MID,
				SenderID:   msg.Sender.ID,
				RoutingID:  msg.Recipient.ID,
				Text:       strings.TrimSpace(msg.Message.Text),
				ReceivedAt: messengerTime(msg.Timestamp),
			}
			for _, att := range msg.Message.Attachments {
				if att.Payload.URL == "" {
					continue
				}
				ev.Media = &model.MediaRef{
					URL:         att.Payload.URL,
					ContentType: attachmentContentType(att.Type),
				}
				break
			}
			if ev.Text == "" && ev.Media == nil {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func messengerTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func attachmentContentType(kind string) string {
	switch kind {
	case "image":
		return "image/jpeg"
	case "video":
		return "video/mp4"
	case "audio":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// Send calls the Graph API Send endpoint. routingID is unused: the page
// token already identifies the page.
func (m *Messenger) Send(ctx context.Context, _ string, recipientID, text string) error {
	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s",
		strings.TrimRight(m.cfg.GraphBase, "/"), url.QueryEscape(m.cfg.PageAccessToken))

	payload := map[string]any{
		"recipient":      map[string]string{"id": recipientID},
		"message":        map[string]string{"text": text},
		"messaging_type": "RESPONSE",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("messenger send: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("messenger send: %w", err)
	}
	return nil
}

// LookupSender fetches first/last name and locale for a page-scoped id.
func (m *Messenger) LookupSender(ctx context.Context, senderID string) (SenderInfo, error) {
	if !m.Configured() {
		return SenderInfo{}, fmt.Errorf("messenger lookup: page token not configured")
	}
	endpoint := fmt.Sprintf("%s/%s?fields=first_name,last_name,locale&access_token=%s",
		strings.TrimRight(m.cfg.GraphBase, "/"), url.PathEscape(senderID), url.QueryEscape(m.cfg.PageAccessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SenderInfo{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return SenderInfo{}, fmt.Errorf("messenger lookup: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return SenderInfo{}, fmt.Errorf("messenger lookup: %w", err)
	}

	var out struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Locale    string `json:"locale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SenderInfo{}, fmt.Errorf("messenger lookup decode: %w", err)
	}
	return SenderInfo{
		Name:   strings.TrimSpace(out.FirstName + " " + out.LastName),
		Locale: out.Locale,
	}, nil
}

var (
	_ Adapter      = (*Messenger)(nil)
	_ SenderLookup = (*Messenger)(nil)
)
