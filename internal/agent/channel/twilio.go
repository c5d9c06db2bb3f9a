package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chative-relay/server/internal/agent/model"
	logx "github.com/chative-relay/server/pkg/logger"
)

const (
	twilioSignatureHeader = "X-Twilio-Signature"
	whatsappPrefix        = "whatsapp:"
)

// Twilio handles the SMS/WhatsApp webhook (form-encoded) and the Messages API.
type Twilio struct {
	cfg     model.TwilioConfig
	enforce bool
	client  *http.Client
	now     func() time.Time
}

type TwilioOption func(*Twilio)

func WithTwilioHTTPClient(c *http.Client) TwilioOption {
	return func(t *Twilio) { t.client = c }
}

func WithTwilioClock(now func() time.Time) TwilioOption {
	return func(t *Twilio) { t.now = now }
}

func NewTwilio(cfg model.TwilioConfig, enforceSignature bool, opts ...TwilioOption) *Twilio {
	t := &Twilio{
		cfg:     cfg,
		enforce: enforceSignature,
		client:  &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Twilio) Channel() model.Channel { return model.ChannelTwilio }

func (t *Twilio) Configured() bool {
	return t.cfg.AccountSID != "" && t.cfg.AuthToken != ""
}

// Verify validates X-Twilio-Signature: base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func (t *Twilio) Verify(r *Request) bool {
	if !t.enforce {
		return true
	}
	if t.cfg.AuthToken == "" {
		logx.Error().Msg("twilio signature enforcement is on but TWILIO_AUTH_TOKEN is empty")
		return false
	}
	got := r.Header.Get(twilioSignatureHeader)
	if got == "" {
		return false
	}
	want := TwilioSignature(t.cfg.AuthToken, r.URL, r.Form)
	return hmac.Equal([]byte(got), []byte(want))
}

// TwilioSignature computes the value Twilio puts in X-Twilio-Signature.
func TwilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), form[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Parse reads the Twilio form. Missing Body is an empty string; only the
// first attachment (MediaUrl0) is taken.
func (t *Twilio) Parse(_ context.Context, r *Request) ([]model.InboundEvent, error) {
	f := r.Form
	from := stripWhatsApp(f.Get("From"))
	if from == "" {
		return nil, fmt.Errorf("%w: missing From", ErrBadPayload)
	}

	ev := model.InboundEvent{
		Channel:     model.ChannelTwilio,
		MessageID:   f.Get("MessageSid"),
		SenderID:    from,
		RoutingID:   stripWhatsApp(f.Get("To")),
		Text:        strings.TrimSpace(f.Get("Body")),
		DisplayName: f.Get("ProfileName"),
		ReceivedAt:  t.now(),
	}
	if ev.MessageID == "" {
		ev.MessageID = f.Get("SmsMessageSid")
	}

	if n, _ := strconv.Atoi(f.Get("NumMedia")); n > 0 && f.Get("MediaUrl0") != "" {
		ev.Media = &model.MediaRef{
			URL:         f.Get("MediaUrl0"),
			ContentType: model.BaseContentType(f.Get("MediaContentType0")),
		}
	}
	return []model.InboundEvent{ev}, nil
}

// Send posts to the Messages API. routingID is the agent number used as From.
func (t *Twilio) Send(ctx context.Context, routingID, recipientID, text string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(t.cfg.APIBase, "/"), url.PathEscape(t.cfg.AccountSID))

	form := url.Values{}
	form.Set("From", t.address(routingID))
	form.Set("To", t.address(recipientID))
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	return nil
}

func (t *Twilio) address(id string) string {
	if !t.cfg.WhatsApp || strings.HasPrefix(id, whatsappPrefix) {
		return id
	}
	return whatsappPrefix + id
}

// AuthorizeMedia adds basic auth; Twilio media URLs require account credentials.
func (t *Twilio) AuthorizeMedia(req *http.Request) {
	if t.Configured() {
		req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	}
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// InlineReply renders TwiML so Twilio delivers text from the webhook response.
func (t *Twilio) InlineReply(text string) InlineReply {
	body, err := xml.Marshal(twiml{Message: text})
	if err != nil {
		body = []byte("<Response></Response>")
	}
	return InlineReply{
		ContentType: "text/xml",
		Body:        append([]byte(xml.Header), body...),
	}
}

// EmptyTwiML is the acknowledgement body when no inline reply is needed.
func EmptyTwiML() InlineReply {
	return InlineReply{ContentType: "text/xml", Body: []byte(xml.Header + "<Response></Response>")}
}

// PublicURL rebuilds the URL Twilio signed, honouring proxy headers.
func PublicURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	uri := r.Header.Get("X-Forwarded-Uri")
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	return scheme + "://" + host + uri
}

func stripWhatsApp(v string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), whatsappPrefix))
}

var (
	_ Adapter         = (*Twilio)(nil)
	_ InlineReplier   = (*Twilio)(nil)
	_ MediaAuthorizer = (*Twilio)(nil)
)
