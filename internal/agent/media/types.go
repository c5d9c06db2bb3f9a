package media

import (
	"errors"
	"strings"

	"github.com/chative-relay/server/internal/agent/model"
)

var (
	// ErrVideo marks a video attachment; videos are never downloaded.
	ErrVideo = errors.New("video attachments are not processed")
)

var allowed = map[string]model.MediaKind{
	"image/jpeg": model.MediaImage,
	"image/png":  model.MediaImage,
	"image/gif":  model.MediaImage,
	"image/webp": model.MediaImage,

	"audio/mpeg": model.MediaAudio,
	"audio/ogg":  model.MediaAudio,
	"audio/wav":  model.MediaAudio,
	"audio/mp4":  model.MediaAudio,

	"video/mp4":       model.MediaVideo,
	"video/3gpp":      model.MediaVideo,
	"video/quicktime": model.MediaVideo,

	"application/pdf":    model.MediaDocument,
	"text/plain":         model.MediaDocument,
	"application/msword": model.MediaDocument,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": model.MediaDocument,
}

// Classify returns the media kind for a content type. Any video/* type is
// a video even when it is not on the allow-list.
func Classify(contentType string) (model.MediaKind, bool) {
	ct := model.BaseContentType(contentType)
	if kind, ok := allowed[ct]; ok {
		return kind, true
	}
	if strings.HasPrefix(ct, "video/") {
		return model.MediaVideo, true
	}
	return "", false
}

// IsVideo reports whether the content type is handled by the video policy.
func IsVideo(contentType string) bool {
	kind, ok := Classify(contentType)
	return ok && kind == model.MediaVideo
}
