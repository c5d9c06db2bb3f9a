package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-relay/server/internal/agent/model"
)

func twilioForm() url.Values {
	return url.Values{
		"From":              {"whatsapp:+15551234567"},
		"To":                {"whatsapp:+19995550000"},
		"Body":              {"  hi there "},
		"ProfileName":       {"Ana"},
		"NumMedia":          {"2"},
		"MediaUrl0":         {"https://api.twilio.com/media/0"},
		"MediaContentType0": {"image/JPEG"},
		"MediaUrl1":         {"https://api.twilio.com/media/1"},
		"MediaContentType1": {"image/png"},
		"MessageSid":        {"SM123"},
	}
}

func TestTwilioParse(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	tw := NewTwilio(model.TwilioConfig{}, false, WithTwilioClock(func() time.Time { return now }))

	events, err := tw.Parse(context.Background(), &Request{Form: twilioForm()})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, model.ChannelTwilio, ev.Channel)
	assert.Equal(t, "SM123", ev.MessageID)
	assert.Equal(t, "+15551234567", ev.SenderID)
	assert.Equal(t, "+19995550000", ev.RoutingID)
	assert.Equal(t, "hi there", ev.Text)
	assert.Equal(t, "Ana", ev.DisplayName)
	assert.Equal(t, now, ev.ReceivedAt)
	require.NotNil(t, ev.Media)
	assert.Equal(t, "https://api.twilio.com/media/0", ev.Media.URL)
	assert.Equal(t, "image/jpeg", ev.Media.ContentType)
}

func TestTwilioParseToleratesMissingBody(t *testing.T) {
	t.Parallel()

	tw := NewTwilio(model.TwilioConfig{}, false)
	events, err := tw.Parse(context.Background(), &Request{Form: url.Values{"From": {"+1555"}, "To": {"+1999"}}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Text)
	assert.Nil(t, events[0].Media)

	_, err = tw.Parse(context.Background(), &Request{Form: url.Values{}})
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestTwilioVerify(t *testing.T) {
	t.Parallel()

	cfg := model.TwilioConfig{AccountSID: "AC1", AuthToken: "secret"}
	form := twilioForm()
	u := "https://relay.example.com/api/twilio?x=1"
	sig := TwilioSignature("secret", u, form)

	signed := &Request{URL: u, Form: form, Header: http.Header{twilioSignatureHeader: {sig}}}
	assert.True(t, NewTwilio(cfg, true).Verify(signed))

	tampered := &Request{URL: u, Form: url.Values{"Body": {"other"}}, Header: signed.Header}
	assert.False(t, NewTwilio(cfg, true).Verify(tampered))

	unsigned := &Request{URL: u, Form: form, Header: http.Header{}}
	assert.False(t, NewTwilio(cfg, true).Verify(unsigned))
	assert.True(t, NewTwilio(cfg, false).Verify(unsigned), "enforcement off skips the check")

	assert.False(t, NewTwilio(model.TwilioConfig{}, true).Verify(signed), "missing token rejects when enforced")
}

func TestTwilioSend(t *testing.T) {
	t.Parallel()

	var gotPath, gotUser string
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tw := NewTwilio(model.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", APIBase: srv.URL, WhatsApp: true}, false)
	require.NoError(t, tw.Send(context.Background(), "+1999", "+1555", "hello"))

	assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", gotPath)
	assert.Equal(t, "AC1", gotUser)
	assert.Equal(t, "whatsapp:+1999", gotForm.Get("From"))
	assert.Equal(t, "whatsapp:+1555", gotForm.Get("To"))
	assert.Equal(t, "hello", gotForm.Get("Body"))
}

func TestTwilioSendFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	tw := NewTwilio(model.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", APIBase: srv.URL}, false)
	err := tw.Send(context.Background(), "+1999", "+1555", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestTwilioInlineReplyEscapes(t *testing.T) {
	t.Parallel()

	r := NewTwilio(model.TwilioConfig{}, false).InlineReply("a < b & c")
	assert.Equal(t, "text/xml", r.ContentType)
	assert.Contains(t, string(r.Body), "<Response><Message>a &lt; b &amp; c</Message></Response>")
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodPost, "http://internal:8080/api/twilio?a=1", nil)
	assert.Equal(t, "http://internal:8080/api/twilio?a=1", PublicURL(r))

	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "relay.example.com")
	r.Header.Set("X-Forwarded-Uri", "/hooks/twilio")
	assert.Equal(t, "https://relay.example.com/hooks/twilio", PublicURL(r))
}

const messengerBody = `{
  "object": "page",
  "entry": [{
    "id": "PAGE1",
    "messaging": [
      {"sender": {"id": "U1"}, "recipient": {"id": "PAGE1"}, "timestamp": 1714564800000,
       "message": {"mid": "m1", "text": "hello",
         "attachments": [{"type": "audio", "payload": {"url": "https://cdn/a.mp3"}},
                         {"type": "image", "payload": {"url": "https://cdn/b.jpg"}}]}},
      {"sender": {"id": "PAGE1"}, "recipient": {"id": "U1"}, "message": {"mid": "m2", "text": "echo", "is_echo": true}},
      {"sender": {"id": "U2"}, "recipient": {"id": "PAGE1"}, "delivery": {"mids": ["m0"]}},
      {"sender": {"id": "U3"}, "recipient": {"id": "PAGE1"}, "message": {"mid": "m3"}}
    ]
  }]
}`

func TestMessengerParse(t *testing.T) {
	t.Parallel()

	m := NewMessenger(model.MessengerConfig{}, false)
	events, err := m.Parse(context.Background(), &Request{Body: []byte(messengerBody)})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, model.ChannelMessenger, ev.Channel)
	assert.Equal(t, "m1", ev.MessageID)
	assert.Equal(t, "U1", ev.SenderID)
	assert.Equal(t, "PAGE1", ev.RoutingID)
	assert.Equal(t, "hello", ev.Text)
	assert.Equal(t, time.UnixMilli(1714564800000), ev.ReceivedAt)
	require.NotNil(t, ev.Media)
	assert.Equal(t, "https://cdn/a.mp3", ev.Media.URL, "first attachment wins")
	assert.Equal(t, "audio/mpeg", ev.Media.ContentType)

	_, err = m.Parse(context.Background(), &Request{Body: []byte("{")})
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestMessengerVerify(t *testing.T) {
	t.Parallel()

	body := []byte(messengerBody)
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	m := NewMessenger(model.MessengerConfig{AppSecret: "app-secret"}, true)
	assert.True(t, m.Verify(&Request{Body: body, Header: http.Header{messengerSignatureHeader: {sig}}}))
	assert.False(t, m.Verify(&Request{Body: []byte("{}"), Header: http.Header{messengerSignatureHeader: {sig}}}))
	assert.False(t, m.Verify(&Request{Body: body, Header: http.Header{messengerSignatureHeader: {"md5=abc"}}}))
	assert.True(t, NewMessenger(model.MessengerConfig{}, false).Verify(&Request{Body: body, Header: http.Header{}}))
}

func TestMessengerHandshake(t *testing.T) {
	t.Parallel()

	m := NewMessenger(model.MessengerConfig{VerifyToken: "tok"}, false)

	got, ok := m.VerifyHandshake("subscribe", "tok", "12345")
	assert.True(t, ok)
	assert.Equal(t, "12345", got)

	_, ok = m.VerifyHandshake("subscribe", "wrong", "12345")
	assert.False(t, ok)
	_, ok = m.VerifyHandshake("unsubscribe", "tok", "12345")
	assert.False(t, ok)
	_, ok = NewMessenger(model.MessengerConfig{}, false).VerifyHandshake("subscribe", "", "1")
	assert.False(t, ok, "empty configured token never matches")
}

func TestMessengerSendAndLookup(t *testing.T) {
	t.Parallel()

	var sent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "page-token", r.URL.Query().Get("access_token"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/me/messages":
			b, _ := io.ReadAll(r.Body)
			sent = string(b)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/U1":
			_, _ = io.WriteString(w, `{"first_name":"Lee","last_name":"Park","locale":"ko_KR"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewMessenger(model.MessengerConfig{PageAccessToken: "page-token", GraphBase: srv.URL}, false)
	require.NoError(t, m.Send(context.Background(), "PAGE1", "U1", "hey"))
	assert.True(t, strings.Contains(sent, `"recipient":{"id":"U1"}`))
	assert.True(t, strings.Contains(sent, `"message":{"text":"hey"}`))

	info, err := m.LookupSender(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "Lee Park", info.Name)
	assert.Equal(t, "ko_KR", info.Locale)
}

func TestPageID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"123456":                                           "123456",
		"https://www.facebook.com/profile.php?id=61550000": "61550000",
		"https://facebook.com/people/Some-Page/10002":      "10002",
		"https://facebook.com/somepage/777":                "777",
		"https://facebook.com/somepage":                    "",
		"":                                                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, PageID(in), in)
	}
}

func TestCountryInference(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "United States", CountryFromPhone("+1 555 123 4567"))
	assert.Equal(t, "Jamaica", CountryFromPhone("+18765550000"))
	assert.Equal(t, "Thailand", CountryFromPhone("+66812345678"))
	assert.Equal(t, UnknownCountry, CountryFromPhone(""))

	assert.Equal(t, "United States", CountryFromLocale("en_US"))
	assert.Equal(t, "South Korea", CountryFromLocale("ko_KR"))
	assert.Equal(t, "ZZ", CountryFromLocale("xx_ZZ"))
	assert.Equal(t, UnknownCountry, CountryFromLocale("en"))
}
