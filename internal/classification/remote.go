package classification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"flag-classifier/internal/models"
)

// RemoteStore talks to a classification endpoint over HTTP.
type RemoteStore struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRemoteStore creates a client for endpoint, e.g. https://host/api/classifications.
// token, when set, is sent as a bearer credential.
func NewRemoteStore(endpoint, token string, timeout time.Duration, logger *zap.Logger) *RemoteStore {
	return &RemoteStore{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HTTPClient exposes the underlying client, mainly for tests.
func (s *RemoteStore) HTTPClient() *http.Client {
	return s.httpClient
}

// Submit validates locally, then posts a save action.
func (s *RemoteStore) Submit(ctx context.Context, c *models.Classification) (*models.Classification, error) {
	row, err := prepare(c, time.Now())
	if err != nil {
		return nil, err
	}

	resp, err := s.post(ctx, "submit", models.ClassificationRequest{
		Action:         models.ActionSave,
		Classification: row,
	})
	if err != nil {
		return nil, err
	}
	if resp.Data != nil {
		return resp.Data, nil
	}
	return row, nil
}

// Flag posts a flag action.
func (s *RemoteStore) Flag(ctx context.Context, imageID, reason, expertID string) (*models.Classification, error) {
	imageID, reason, expertID, err := flagDefaults(imageID, reason, expertID)
	if err != nil {
		return nil, err
	}

	resp, err := s.post(ctx, "flag", models.ClassificationRequest{
		Action:   models.ActionFlag,
		ImageID:  imageID,
		Reason:   reason,
		ExpertID: expertID,
	})
	if err != nil {
		return nil, err
	}
	if resp.Data != nil {
		return resp.Data, nil
	}
	return &models.Classification{ImageID: imageID, ExpertID: expertID, NeedsReview: true, ReviewReason: reason}, nil
}

func (s *RemoteStore) post(ctx context.Context, op string, body models.ClassificationRequest) (*models.ClassificationResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("Classification endpoint unreachable", zap.String("op", op), zap.Error(err))
		return nil, backendErr(op, fmt.Errorf("failed to send request: %w", err))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to read response: %w", err))
	}

	var resp models.ClassificationResponse
	decodeErr := json.Unmarshal(raw, &resp)

	if httpResp.StatusCode == http.StatusBadRequest && decodeErr == nil && len(resp.Fields) > 0 {
		return nil, &ValidationError{Fields: resp.Fields}
	}
	if httpResp.StatusCode != http.StatusOK || decodeErr != nil || !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, backendErr(op, fmt.Errorf("endpoint returned status %d: %s", httpResp.StatusCode, msg))
	}

	return &resp, nil
}
