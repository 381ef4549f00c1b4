// Package verify implements the face-verification gate: it classifies
// submitted image samples, tracks per-participant warning counts, issues
// signed attestations and escalates repeated failures into session teardown.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Judgment is the classifier's raw output for a single image sample.
// Confidence is nil when the classifier does not produce a score.
type Judgment struct {
	FaceDetected bool
	Confidence   *float64
}

// FaceClassifier judges whether an image sample contains a live face.
type FaceClassifier interface {
	Detect(ctx context.Context, imageSample string) (Judgment, error)
}

// HTTPClassifier calls an external classifier service over HTTP. The service
// receives the base64 sample and responds with a detection flag and an
// optional confidence score.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

// NewHTTPClassifier creates a classifier against the given endpoint URL.
func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClassifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Detect submits the sample for classification.
func (c *HTTPClassifier) Detect(ctx context.Context, imageSample string) (Judgment, error) {
	reqBody, err := json.Marshal(map[string]string{"image": imageSample})
	if err != nil {
		return Judgment{}, fmt.Errorf("verify: marshal classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return Judgment{}, fmt.Errorf("verify: build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Judgment{}, fmt.Errorf("verify: classifier call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Judgment{}, fmt.Errorf("verify: classifier returned status %d", resp.StatusCode)
	}

	var body struct {
		FaceDetected bool     `json:"face_detected"`
		Confidence   *float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Judgment{}, fmt.Errorf("verify: decode classifier response: %w", err)
	}

	return Judgment{FaceDetected: body.FaceDetected, Confidence: body.Confidence}, nil
}

// StaticClassifier returns a fixed judgment. Used in development when no
// classifier service is configured.
type StaticClassifier struct {
	Judgment Judgment
}

// Detect returns the configured judgment.
func (c *StaticClassifier) Detect(_ context.Context, _ string) (Judgment, error) {
	return c.Judgment, nil
}
