package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	trtypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/google/uuid"

	"github.com/chative-relay/server/internal/agent/model"
	logx "github.com/chative-relay/server/pkg/logger"
	"github.com/chative-relay/server/pkg/poll"
)

var (
	ErrTranscriptionFailed = errors.New("transcription job failed")
	ErrEmptyTranscript     = errors.New("transcript is empty")
)

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// ObjectStore is the subset of the S3 client used for staging audio.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// TranscribeAPI is the subset of the Transcribe client used here.
type TranscribeAPI interface {
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// JobTranscriber stages audio in S3, runs a Transcribe job and polls it.
// The staged object is deleted on every exit path.
type JobTranscriber struct {
	objects  ObjectStore
	jobs     TranscribeAPI
	bucket   string
	language string
	policy   poll.Policy
	client   *http.Client
	now      func() time.Time
}

type TranscriberOption func(*JobTranscriber)

func WithSleeper(s poll.Sleeper) TranscriberOption {
	return func(t *JobTranscriber) { t.policy.Sleep = s }
}

func WithTranscriptClient(c *http.Client) TranscriberOption {
	return func(t *JobTranscriber) { t.client = c }
}

func NewJobTranscriber(objects ObjectStore, jobs TranscribeAPI, cfg model.MediaConfig, opts ...TranscriberOption) *JobTranscriber {
	t := &JobTranscriber{
		objects:  objects,
		jobs:     jobs,
		bucket:   cfg.Bucket,
		language: cfg.Language,
		policy:   poll.Policy{Interval: cfg.PollInterval, MaxAttempts: cfg.MaxAttempts},
		client:   &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *JobTranscriber) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	format, ext := mediaFormat(contentType)
	key := fmt.Sprintf("audio/%d-%s.%s", t.now().UnixMilli(), uuid.NewString(), ext)
	job := "transcribe-job-" + uuid.NewString()

	if _, err := t.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(audio),
		ContentType: aws.String(contentType),
	}); err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	defer t.cleanup(ctx, key)

	if _, err := t.jobs.StartTranscriptionJob(ctx, &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(job),
		LanguageCode:         trtypes.LanguageCode(t.language),
		MediaFormat:          format,
		Media:                &trtypes.Media{MediaFileUri: aws.String(fmt.Sprintf("s3://%s/%s", t.bucket, key))},
	}); err != nil {
		return "", fmt.Errorf("start transcription job: %w", err)
	}

	uri, attempts, err := poll.Until(ctx, t.policy, func(ctx context.Context, _ int) (string, bool, error) {
		out, err := t.jobs.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
			TranscriptionJobName: aws.String(job),
		})
		if err != nil {
			return "", false, fmt.Errorf("get transcription job: %w", err)
		}
		if out.TranscriptionJob == nil {
			return "", false, nil
		}
		switch out.TranscriptionJob.TranscriptionJobStatus {
		case trtypes.TranscriptionJobStatusCompleted:
			if out.TranscriptionJob.Transcript == nil {
				return "", true, nil
			}
			return aws.ToString(out.TranscriptionJob.Transcript.TranscriptFileUri), true, nil
		case trtypes.TranscriptionJobStatusFailed:
			return "", false, fmt.Errorf("%w: %s", ErrTranscriptionFailed, aws.ToString(out.TranscriptionJob.FailureReason))
		default:
			return "", false, nil
		}
	})
	if err != nil {
		logx.Warn().Err(err).Str("job", job).Int("attempts", attempts).Msg("transcription did not complete")
		return "", err
	}
	if uri == "" {
		return "", ErrEmptyTranscript
	}

	return t.fetchTranscript(ctx, uri)
}

func (t *JobTranscriber) cleanup(ctx context.Context, key string) {
	// The request may already be cancelled; deletion must still run.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := t.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	}); err != nil {
		logx.Error().Err(err).Str("bucket", t.bucket).Str("key", key).Msg("failed to delete staged audio")
	}
}

type transcriptDocument struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

func (t *JobTranscriber) fetchTranscript(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("build transcript request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch transcript: status %d", resp.StatusCode)
	}

	var doc transcriptDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	if len(doc.Results.Transcripts) == 0 {
		return "", ErrEmptyTranscript
	}
	text := strings.TrimSpace(doc.Results.Transcripts[0].Transcript)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

func mediaFormat(contentType string) (trtypes.MediaFormat, string) {
	switch model.BaseContentType(contentType) {
	case "audio/wav":
		return trtypes.MediaFormatWav, "wav"
	case "audio/mp4":
		return trtypes.MediaFormatMp4, "mp4"
	case "audio/ogg":
		return trtypes.MediaFormatOgg, "ogg"
	default:
		return trtypes.MediaFormatMp3, "mp3"
	}
}
