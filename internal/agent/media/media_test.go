package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	trtypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
	"github.com/chative-relay/server/pkg/poll"
)

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	_, err = ReadAllWithLimit(strings.NewReader("123456"), 5)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = ReadAllWithLimit(nil, 5)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ct   string
		kind model.MediaKind
		ok   bool
	}{
		{"image/jpeg", model.MediaImage, true},
		{"IMAGE/PNG", model.MediaImage, true},
		{"audio/ogg; codecs=opus", model.MediaAudio, true},
		{"video/mp4", model.MediaVideo, true},
		{"video/webm", model.MediaVideo, true},
		{"application/pdf", model.MediaDocument, true},
		{"application/zip", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		kind, ok := Classify(tt.ct)
		assert.Equal(t, tt.ok, ok, tt.ct)
		assert.Equal(t, tt.kind, kind, tt.ct)
	}
}

type fakeDownloader struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeDownloader) Download(context.Context, string, func(*http.Request)) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

type fakeVision struct {
	out string
	err error
}

func (f fakeVision) Describe(context.Context, []byte) (string, error) { return f.out, f.err }

type fakeTranscriber struct {
	out string
	err error
}

func (f fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) { return f.out, f.err }

func TestEnricherGates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	d := &fakeDownloader{data: []byte("x")}
	e := NewEnricher(d, nil, nil, 8)

	_, err := e.Enrich(ctx, model.MediaRef{URL: "u", ContentType: "video/mp4"}, nil)
	require.ErrorIs(t, err, ErrVideo)
	require.ErrorIs(t, err, errx.ErrUnsupportedMedia)

	_, err = e.Enrich(ctx, model.MediaRef{URL: "u", ContentType: "application/zip"}, nil)
	require.ErrorIs(t, err, errx.ErrUnsupportedMedia)
	assert.False(t, errors.Is(err, ErrVideo))

	_, err = e.Enrich(ctx, model.MediaRef{URL: "u", ContentType: "image/png", Size: 9}, nil)
	require.ErrorIs(t, err, errx.ErrMediaTooLarge)

	assert.Zero(t, d.calls, "gated attachments are never downloaded")
}

func TestEnricherImage(t *testing.T) {
	t.Parallel()

	e := NewEnricher(&fakeDownloader{data: []byte("img")}, fakeVision{out: "Objects/scenes detected: Cat."}, nil, 1024)
	info, err := e.Enrich(context.Background(), model.MediaRef{URL: "u", ContentType: "image/png"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.MediaImage, info.Kind)
	assert.Equal(t, "aW1n", info.Base64)
	assert.Equal(t, "Objects/scenes detected: Cat.", info.DerivedText)
	assert.Equal(t, int64(3), info.Size)

	degraded := NewEnricher(&fakeDownloader{data: []byte("img")}, fakeVision{err: errors.New("throttled")}, nil, 1024)
	info, err = degraded.Enrich(context.Background(), model.MediaRef{URL: "u", ContentType: "image/png"}, nil)
	require.NoError(t, err)
	assert.Equal(t, VisionFailed, info.DerivedText)
}

func TestEnricherAudio(t *testing.T) {
	t.Parallel()

	e := NewEnricher(&fakeDownloader{data: []byte("aud")}, nil, fakeTranscriber{out: "call me"}, 1024)
	info, err := e.Enrich(context.Background(), model.MediaRef{URL: "u", ContentType: "audio/mpeg"}, nil)
	require.NoError(t, err)
	assert.True(t, info.Transcribed)
	assert.Equal(t, "call me", info.DerivedText)

	failing := NewEnricher(&fakeDownloader{data: []byte("aud")}, nil, fakeTranscriber{err: poll.ErrExhausted}, 1024)
	info, err = failing.Enrich(context.Background(), model.MediaRef{URL: "u", ContentType: "audio/mpeg"}, nil)
	require.NoError(t, err)
	assert.False(t, info.Transcribed)
}

func TestEnricherDownloadFailure(t *testing.T) {
	t.Parallel()

	down := errx.Wrap(errx.ErrMediaDownloadFailed, errors.New("404"), http.StatusOK)
	e := NewEnricher(&fakeDownloader{err: down}, nil, nil, 1024)
	_, err := e.Enrich(context.Background(), model.MediaRef{URL: "u", ContentType: "application/pdf"}, nil)
	require.ErrorIs(t, err, errx.ErrMediaDownloadFailed)
}

func TestHTTPDownloader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		switch r.URL.Path {
		case "/small":
			if user != "AC1" || pass != "tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, "hello")
		case "/big":
			w.Header().Set("Content-Length", "100")
			_, _ = w.Write(bytes.Repeat([]byte("a"), 100))
		case "/chunked":
			w.(http.Flusher).Flush()
			_, _ = w.Write(bytes.Repeat([]byte("a"), 100))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewHTTPDownloader(10, time.Second)
	auth := func(r *http.Request) { r.SetBasicAuth("AC1", "tok") }

	data, err := d.Download(context.Background(), srv.URL+"/small", auth)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = d.Download(context.Background(), srv.URL+"/small", nil)
	require.ErrorIs(t, err, errx.ErrMediaDownloadFailed)

	_, err = d.Download(context.Background(), srv.URL+"/big", nil)
	require.ErrorIs(t, err, errx.ErrMediaTooLarge)

	_, err = d.Download(context.Background(), srv.URL+"/chunked", nil)
	require.ErrorIs(t, err, errx.ErrMediaTooLarge)

	_, err = d.Download(context.Background(), srv.URL+"/missing", nil)
	require.ErrorIs(t, err, errx.ErrMediaDownloadFailed)
}

type fakeRekognition struct {
	labels []string
	lines  []string
	err    error
}

func (f fakeRekognition) DetectLabels(_ context.Context, in *rekognition.DetectLabelsInput, _ ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &rekognition.DetectLabelsOutput{}
	for _, l := range f.labels {
		out.Labels = append(out.Labels, rektypes.Label{Name: aws.String(l)})
	}
	return out, nil
}

func (f fakeRekognition) DetectText(context.Context, *rekognition.DetectTextInput, ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	out := &rekognition.DetectTextOutput{}
	for _, l := range f.lines {
		out.TextDetections = append(out.TextDetections,
			rektypes.TextDetection{DetectedText: aws.String(l), Type: rektypes.TextTypesLine},
			rektypes.TextDetection{DetectedText: aws.String("word"), Type: rektypes.TextTypesWord},
		)
	}
	return out, nil
}

func TestRekognitionVision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	got, err := NewRekognitionVision(fakeRekognition{labels: []string{"Dog", "Park"}, lines: []string{"SALE"}}).Describe(ctx, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, `Objects/scenes detected: Dog, Park. Text found in image: "SALE"`, got)

	got, err = NewRekognitionVision(fakeRekognition{}).Describe(ctx, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, NoVisionFindings, got)

	_, err = NewRekognitionVision(fakeRekognition{err: errors.New("denied")}).Describe(ctx, []byte("x"))
	require.Error(t, err)
}

type fakeObjects struct {
	mu      sync.Mutex
	puts    []string
	deletes []string
	putErr  error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakeJobs struct {
	statuses []trtypes.TranscriptionJobStatus
	uri      string
	started  *transcribe.StartTranscriptionJobInput
	polls    int
}

func (f *fakeJobs) StartTranscriptionJob(_ context.Context, in *transcribe.StartTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error) {
	f.started = in
	return &transcribe.StartTranscriptionJobOutput{}, nil
}

func (f *fakeJobs) GetTranscriptionJob(context.Context, *transcribe.GetTranscriptionJobInput, ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error) {
	status := trtypes.TranscriptionJobStatusInProgress
	if f.polls < len(f.statuses) {
		status = f.statuses[f.polls]
	}
	f.polls++
	job := &trtypes.TranscriptionJob{TranscriptionJobStatus: status}
	if status == trtypes.TranscriptionJobStatusCompleted {
		job.Transcript = &trtypes.Transcript{TranscriptFileUri: aws.String(f.uri)}
	}
	if status == trtypes.TranscriptionJobStatusFailed {
		job.FailureReason = aws.String("unsupported codec")
	}
	return &transcribe.GetTranscriptionJobOutput{TranscriptionJob: job}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func testMediaConfig() model.MediaConfig {
	return model.MediaConfig{Bucket: "staging", Language: "en-US", PollInterval: time.Second, MaxAttempts: 30}
}

func TestJobTranscriberCompletes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"results":{"transcripts":[{"transcript":" see you at noon "}]}}`)
	}))
	defer srv.Close()

	objects := &fakeObjects{}
	jobs := &fakeJobs{
		statuses: []trtypes.TranscriptionJobStatus{trtypes.TranscriptionJobStatusQueued, trtypes.TranscriptionJobStatusInProgress, trtypes.TranscriptionJobStatusCompleted},
		uri:      srv.URL,
	}
	tr := NewJobTranscriber(objects, jobs, testMediaConfig(), WithSleeper(noSleep))

	text, err := tr.Transcribe(context.Background(), []byte("audio"), "audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, "see you at noon", text)
	assert.Equal(t, 3, jobs.polls)

	require.Len(t, objects.puts, 1)
	assert.True(t, strings.HasPrefix(objects.puts[0], "audio/"))
	assert.True(t, strings.HasSuffix(objects.puts[0], ".ogg"))
	assert.Equal(t, objects.puts, objects.deletes, "staged audio is deleted")
	assert.Equal(t, trtypes.MediaFormatOgg, jobs.started.MediaFormat)
	assert.Equal(t, "s3://staging/"+objects.puts[0], aws.ToString(jobs.started.Media.MediaFileUri))
}

func TestJobTranscriberFailureStillCleansUp(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{}
	jobs := &fakeJobs{statuses: []trtypes.TranscriptionJobStatus{trtypes.TranscriptionJobStatusInProgress, trtypes.TranscriptionJobStatusFailed}}
	tr := NewJobTranscriber(objects, jobs, testMediaConfig(), WithSleeper(noSleep))

	_, err := tr.Transcribe(context.Background(), []byte("audio"), "audio/mpeg")
	require.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Equal(t, 2, jobs.polls)
	assert.Equal(t, objects.puts, objects.deletes)
}

func TestJobTranscriberTimesOut(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{}
	jobs := &fakeJobs{}
	tr := NewJobTranscriber(objects, jobs, testMediaConfig(), WithSleeper(noSleep))

	_, err := tr.Transcribe(context.Background(), []byte("audio"), "audio/wav")
	require.ErrorIs(t, err, poll.ErrExhausted)
	assert.Equal(t, 30, jobs.polls)
	assert.Len(t, objects.deletes, 1)
}

func TestJobTranscriberStagingFailure(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{putErr: errors.New("access denied")}
	jobs := &fakeJobs{}
	tr := NewJobTranscriber(objects, jobs, testMediaConfig(), WithSleeper(noSleep))

	_, err := tr.Transcribe(context.Background(), []byte("audio"), "audio/wav")
	require.Error(t, err)
	assert.Nil(t, jobs.started)
	assert.Empty(t, objects.deletes, "nothing staged, nothing to delete")
}
