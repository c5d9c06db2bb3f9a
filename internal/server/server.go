// Package server exposes the per-channel webhook routes.
package server

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chative-relay/server/internal/agent/channel"
	"github.com/chative-relay/server/internal/agent/pipeline"
	"github.com/chative-relay/server/internal/core"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

// maxBodyBytes caps webhook bodies; both platforms send far less.
const maxBodyBytes = 1 << 20

const (
	TwilioPath    = "/api/twilio"
	MessengerPath = "/api/messenger"
	HealthPath    = "/healthz"

	messengerAck = "EVENT_RECEIVED"
)

// Processor runs a verified webhook through the pipeline.
type Processor interface {
	Handle(ctx context.Context, a channel.Adapter, req *channel.Request) (pipeline.Response, error)
}

type Config struct {
	Environment    core.Environment
	RequestTimeout time.Duration
}

type Server struct {
	proc      Processor
	twilio    *channel.Twilio
	messenger *channel.Messenger
	timeout   time.Duration
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config, proc Processor, twilio *channel.Twilio, messenger *channel.Messenger) *gin.Engine {
	if cfg.Environment.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		proc:      proc,
		twilio:    twilio,
		messenger: messenger,
		timeout:   cfg.RequestTimeout,
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	r.GET(HealthPath, s.health)

	r.GET(TwilioPath, s.liveness("twilio"))
	r.POST(TwilioPath, s.handleTwilio)

	r.GET(MessengerPath, s.handleMessengerVerify)
	r.POST(MessengerPath, s.handleMessenger)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) liveness(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "channel": name})
	}
}

func (s *Server) handleTwilio(c *gin.Context) {
	resp, ok := s.process(c, s.twilio)
	if !ok {
		return
	}
	reply := channel.EmptyTwiML()
	if resp.Inline != nil {
		reply = *resp.Inline
	}
	c.Data(http.StatusOK, reply.ContentType, reply.Body)
}

// handleMessengerVerify answers the subscription handshake, or liveness when
// the request is not a handshake.
func (s *Server) handleMessengerVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	if mode == "" {
		s.liveness("messenger")(c)
		return
	}
	challenge, ok := s.messenger.VerifyHandshake(mode, c.Query("hub.verify_token"), c.Query("hub.challenge"))
	if !ok {
		logx.Warn().Str("mode", mode).Msg("messenger verify token mismatch")
		c.String(http.StatusForbidden, "Forbidden")
		return
	}
	logx.Info().Msg("messenger webhook verified")
	c.String(http.StatusOK, challenge)
}

func (s *Server) handleMessenger(c *gin.Context) {
	if _, ok := s.process(c, s.messenger); !ok {
		return
	}
	c.String(http.StatusOK, messengerAck)
}

// process reads the webhook and runs it detached from the client connection
// under the request budget. It writes the error response itself and
// reports false when it did.
func (s *Server) process(c *gin.Context, a channel.Adapter) (pipeline.Response, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		logx.Warn().Err(err).Str("channel", string(a.Channel())).Msg("read webhook body")
		c.String(http.StatusBadRequest, "Bad Request")
		return pipeline.Response{}, false
	}
	if len(body) > maxBodyBytes {
		logx.Warn().Str("channel", string(a.Channel())).Msg("webhook body over limit")
		c.String(http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge))
		return pipeline.Response{}, false
	}

	req := &channel.Request{
		URL:    channel.PublicURL(c.Request),
		Header: c.Request.Header,
		Body:   body,
		Form:   formOf(c.ContentType(), body),
	}

	ctx := context.WithoutCancel(c.Request.Context())
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.proc.Handle(ctx, a, req)
	if err != nil {
		status := errx.StatusOf(err)
		c.String(status, http.StatusText(status))
		return pipeline.Response{}, false
	}
	return resp, true
}

func formOf(contentType string, body []byte) url.Values {
	if !strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		return url.Values{}
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		logx.Warn().Err(err).Msg("malformed form body")
		return url.Values{}
	}
	return form
}
