package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"golang.org/x/sync/errgroup"
)

const (
	maxLabels     = 10
	minConfidence = 70

	NoVisionFindings = "No specific objects or text detected in the image."
	VisionFailed     = "Could not analyze image content automatically."
)

// Vision describes an image in text for the model prompt.
type Vision interface {
	Describe(ctx context.Context, image []byte) (string, error)
}

// RekognitionAPI is the subset of the Rekognition client used here.
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectText(ctx context.Context, in *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// RekognitionVision runs label and text detection in parallel.
type RekognitionVision struct {
	api RekognitionAPI
}

func NewRekognitionVision(api RekognitionAPI) *RekognitionVision {
	return &RekognitionVision{api: api}
}

func (v *RekognitionVision) Describe(ctx context.Context, image []byte) (string, error) {
	img := &rektypes.Image{Bytes: image}

	var labels, lines []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := v.api.DetectLabels(gctx, &rekognition.DetectLabelsInput{
			Image:         img,
			MaxLabels:     aws.Int32(maxLabels),
			MinConfidence: aws.Float32(minConfidence),
		})
		if err != nil {
			return fmt.Errorf("detect labels: %w", err)
		}
		for _, l := range out.Labels {
			if name := aws.ToString(l.Name); name != "" {
				labels = append(labels, name)
			}
		}
		return nil
	})
	g.Go(func() error {
		out, err := v.api.DetectText(gctx, &rekognition.DetectTextInput{Image: img})
		if err != nil {
			return fmt.Errorf("detect text: %w", err)
		}
		for _, d := range out.TextDetections {
			if d.Type == rektypes.TextTypesLine {
				if text := aws.ToString(d.DetectedText); text != "" {
					lines = append(lines, text)
				}
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return FormatVision(labels, lines), nil
}

// FormatVision renders detections as prompt context.
func FormatVision(labels, lines []string) string {
	var b strings.Builder
	if len(labels) > 0 {
		b.WriteString("Objects/scenes detected: ")
		b.WriteString(strings.Join(labels, ", "))
		b.WriteString(". ")
	}
	if len(lines) > 0 {
		b.WriteString(`Text found in image: "`)
		b.WriteString(strings.Join(lines, " "))
		b.WriteString(`"`)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return NoVisionFindings
	}
	return out
}
