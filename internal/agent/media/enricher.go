package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

// Enricher resolves an attachment into MediaInfo. Vision and Transcriber are
// optional; when nil the corresponding pass is skipped.
type Enricher struct {
	downloader  Downloader
	vision      Vision
	transcriber Transcriber
	maxBytes    int64
}

func NewEnricher(d Downloader, v Vision, t Transcriber, maxBytes int64) *Enricher {
	return &Enricher{downloader: d, vision: v, transcriber: t, maxBytes: maxBytes}
}

// Enrich applies the type gate, the video policy, the size gate, then the
// per-kind pass. Returned errors carry errx.ErrUnsupportedMedia (ErrVideo
// for videos), errx.ErrMediaTooLarge or errx.ErrMediaDownloadFailed.
func (e *Enricher) Enrich(ctx context.Context, ref model.MediaRef, authorize func(*http.Request)) (*model.MediaInfo, error) {
	kind, ok := Classify(ref.ContentType)
	if !ok {
		return nil, errx.Wrap(errx.ErrUnsupportedMedia, fmt.Errorf("content type %q", ref.ContentType), http.StatusOK)
	}
	if kind == model.MediaVideo {
		return nil, errx.Wrap(errx.ErrUnsupportedMedia, ErrVideo, http.StatusOK)
	}
	if ref.Size > e.maxBytes {
		return nil, errx.Wrap(errx.ErrMediaTooLarge, fmt.Errorf("declared size %d", ref.Size), http.StatusOK)
	}

	data, err := e.downloader.Download(ctx, ref.URL, authorize)
	if err != nil {
		return nil, err
	}
	info := &model.MediaInfo{
		Kind:        kind,
		URL:         ref.URL,
		ContentType: model.BaseContentType(ref.ContentType),
		Size:        int64(len(data)),
		Data:        data,
	}

	switch kind {
	case model.MediaImage:
		info.Base64 = base64.StdEncoding.EncodeToString(data)
		if e.vision != nil {
			desc, err := e.vision.Describe(ctx, data)
			if err != nil {
				logx.Warn().Err(err).Str("url", ref.URL).Msg("vision pass failed; continuing without context")
				info.DerivedText = VisionFailed
			} else {
				info.DerivedText = desc
			}
		}
	case model.MediaAudio:
		if e.transcriber != nil {
			text, err := e.transcriber.Transcribe(ctx, data, info.ContentType)
			if err != nil {
				logx.Warn().Err(err).Str("url", ref.URL).Msg("transcription failed; continuing without transcript")
			} else {
				info.DerivedText = text
				info.Transcribed = true
			}
		}
	}
	return info, nil
}
