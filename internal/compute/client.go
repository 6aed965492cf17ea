package compute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const CredentialHeader = "x-webhook-secret"

var ErrNotFound = errors.New("not found")

// UpstreamError is returned when a worker or the gateway cannot be reached or
// answers with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker request failed: %v", e.Err)
	}
	return fmt.Sprintf("worker returned %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the worker answered with a non-2xx status. A
// transport failure or timeout leaves it unknown whether the job was taken.
func (e *UpstreamError) Rejected() bool {
	return e.StatusCode != 0
}

// Client sends jobs to the compute workers. There are no retries: a rejected
// job is reported to the caller as an UpstreamError.
type Client struct {
	client *resty.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	res, err := c.client.R().SetContext(ctx).SetBody(body).Post(endpoint)
	if err != nil {
		slog.Error("error sending request to worker", "endpoint", endpoint, "error", err)
		return nil, &UpstreamError{Err: err}
	}

	if !res.IsSuccess() {
		slog.Error("worker returned error", "endpoint", endpoint, "status_code", res.StatusCode(), "body", res.String())
		return nil, &UpstreamError{StatusCode: res.StatusCode(), Body: res.String()}
	}

	return asJSON(res.Body()), nil
}

func (c *Client) SubmitPreprocess(ctx context.Context, endpoint string, job PreprocessJob) error {
	_, err := c.post(ctx, endpoint, job)
	return err
}

func (c *Client) SubmitTraining(ctx context.Context, endpoint string, job TrainingJob) (json.RawMessage, error) {
	return c.post(ctx, endpoint, job)
}

func (c *Client) Predict(ctx context.Context, endpoint string, req PredictRequest) (json.RawMessage, error) {
	return c.post(ctx, endpoint, req)
}

// asJSON passes JSON bodies through untouched and wraps anything else as a
// JSON string.
func asJSON(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(trimmed)
	return quoted
}

// GatewayClient calls the service's own callback routes, the same way a
// worker would, to resolve download URLs before dispatching a job.
type GatewayClient struct {
	client *resty.Client
}

func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

type downloadURLResponse struct {
	URL string `json:"url"`
}

func (g *GatewayClient) downloadURL(ctx context.Context, route, credential string, body any) (string, error) {
	var out downloadURLResponse
	res, err := g.client.R().
		SetContext(ctx).
		SetHeader(CredentialHeader, credential).
		SetBody(body).
		SetResult(&out).
		Post(route)
	if err != nil {
		slog.Error("error calling gateway", "route", route, "error", err)
		return "", &UpstreamError{Err: err}
	}

	if res.StatusCode() == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(res.String()))
	}
	if !res.IsSuccess() {
		slog.Error("gateway returned error", "route", route, "status_code", res.StatusCode(), "body", res.String())
		return "", &UpstreamError{StatusCode: res.StatusCode(), Body: res.String()}
	}
	if out.URL == "" {
		return "", &UpstreamError{StatusCode: res.StatusCode(), Body: "response did not contain a url"}
	}

	return out.URL, nil
}

func (g *GatewayClient) ProcessedDownloadURL(ctx context.Context, credential string, datasetId uuid.UUID) (string, error) {
	return g.downloadURL(ctx, "/dataset/processed-download-url", credential, map[string]uuid.UUID{"datasetId": datasetId})
}

func (g *GatewayClient) ModelDownloadURL(ctx context.Context, credential string, modelId uuid.UUID) (string, error) {
	return g.downloadURL(ctx, "/models/download-url", credential, map[string]uuid.UUID{"modelId": modelId})
}
