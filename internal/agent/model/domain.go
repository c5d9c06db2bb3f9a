package model

import (
	"strings"
	"time"
)

// Channel names the inbound messaging channel an event arrived on.
type Channel string

const (
	ChannelTwilio    Channel = "twilio"
	ChannelMessenger Channel = "messenger"
)

// Platform is the human label stored on sessions.
func (c Channel) Platform() string {
	switch c {
	case ChannelTwilio:
		return "WhatsApp"
	case ChannelMessenger:
		return "Facebook"
	default:
		return string(c)
	}
}

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
)

// ================ Records ================

// Agent is a configured persona. PhoneNumber and SocialLink are its routing ids.
type Agent struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Model       string    `json:"model" bson:"model"`
	Prompt      string    `json:"prompt" bson:"prompt"`
	PhoneNumber string    `json:"phone_number,omitempty" bson:"phone_number,omitempty"`
	SocialLink  string    `json:"social_link,omitempty" bson:"social_link,omitempty"`
	Active      bool      `json:"active" bson:"active"`
	Icon        string    `json:"icon,omitempty" bson:"icon,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// RoutingIDs returns the non-empty routing identifiers of the agent.
func (a Agent) RoutingIDs() []string {
	ids := make([]string, 0, 2)
	if a.PhoneNumber != "" {
		ids = append(ids, a.PhoneNumber)
	}
	if a.SocialLink != "" {
		ids = append(ids, a.SocialLink)
	}
	return ids
}

// Profile is one external sender on one channel.
type Profile struct {
	ID         string    `json:"id" bson:"_id"`
	Name       string    `json:"name" bson:"name"`
	Channel    Channel   `json:"channel" bson:"channel"`
	SenderID   string    `json:"sender_id" bson:"sender_id"`
	Country    string    `json:"country" bson:"country"`
	SessionIDs []string  `json:"session_ids" bson:"session_ids"`
	AgentID    string    `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	AnalysisID string    `json:"analysis_id,omitempty" bson:"analysis_id,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// LastSessionID is the current session candidate, empty when there is none.
func (p Profile) LastSessionID() string {
	if len(p.SessionIDs) == 0 {
		return ""
	}
	return p.SessionIDs[len(p.SessionIDs)-1]
}

// Analysis is allocated empty at profile creation and filled by offline jobs.
type Analysis struct {
	ID        string         `json:"id" bson:"_id"`
	ProfileID string         `json:"profile_id" bson:"profile_id"`
	Data      map[string]any `json:"data" bson:"data"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
}

type SessionMetadata struct {
	Location   string  `json:"location" bson:"location"`
	Device     string  `json:"device" bson:"device"`
	Confidence float64 `json:"confidence" bson:"confidence"`
}

type ChatSession struct {
	ID        string          `json:"id" bson:"_id"`
	ProfileID string          `json:"profile_id" bson:"profile_id"`
	AgentID   string          `json:"agent_id" bson:"agent_id"`
	Platform  string          `json:"platform" bson:"platform"`
	StartedAt time.Time       `json:"started_at" bson:"started_at"`
	Messages  []Message       `json:"messages" bson:"messages"`
	Metadata  SessionMetadata `json:"metadata" bson:"metadata"`
}

// LastMessageAt returns the timestamp of the newest message, or StartedAt
// for a session without messages.
func (s ChatSession) LastMessageAt() time.Time {
	if n := len(s.Messages); n > 0 {
		return s.Messages[n-1].Timestamp
	}
	return s.StartedAt
}

type Message struct {
	Timestamp   time.Time   `json:"timestamp" bson:"timestamp"`
	Role        Role        `json:"role" bson:"role"`
	ContentType ContentType `json:"content_type" bson:"content_type"`
	Content     string      `json:"content" bson:"content"`
}

// ================ Transient ================

// MediaRef is the single attachment carried by an inbound event.
type MediaRef struct {
	URL         string
	ContentType string
	Size        int64
}

// InboundEvent is a normalized webhook message. It lives for one pipeline run.
type InboundEvent struct {
	Channel     Channel
	MessageID   string
	SenderID    string
	RoutingID   string
	Text        string
	DisplayName string
	Locale      string
	Media       *MediaRef
	ReceivedAt  time.Time
}

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// ContentType maps a media kind to the stored message content type.
func (k MediaKind) ContentType() ContentType {
	switch k {
	case MediaImage:
		return ContentImage
	case MediaAudio:
		return ContentAudio
	case MediaVideo:
		return ContentVideo
	default:
		return ContentText
	}
}

// MediaInfo is a resolved attachment. Data is never persisted.
type MediaInfo struct {
	Kind        MediaKind
	URL         string
	ContentType string
	Size        int64
	Data        []byte
	Base64      string
	// DerivedText holds vision output for images and the transcript for audio.
	DerivedText string
	Transcribed bool
}

// SizeKB is the attachment size in kilobytes.
func (m MediaInfo) SizeKB() float64 {
	return float64(m.Size) / 1024
}

// BaseContentType strips parameters such as "; codecs=opus".
func BaseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
