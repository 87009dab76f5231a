// Package enrollment talks to the program-management collaborator. Enrolling
// is an idempotent upsert keyed on (user, program): repeating the call can
// never produce a duplicate enrollment.
package enrollment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/code2deploy/payments/internal/pkg/env"
)

// Enroller grants a user access to a program after a successful payment.
type Enroller interface {
	Enroll(ctx context.Context, userID, programID uint) error
}

// HTTPEnroller calls the collaborator's enrollment upsert endpoint.
type HTTPEnroller struct {
	BaseURL      string
	ServiceToken string
	HTTPClient   *http.Client
}

// NewHTTPEnrollerFromEnv builds the collaborator client from environment
// config.
func NewHTTPEnrollerFromEnv() *HTTPEnroller {
	return &HTTPEnroller{
		BaseURL:      strings.TrimRight(env.GetEnv("PROGRAMS_SERVICE_URL", "http://localhost:8001"), "/"),
		ServiceToken: env.GetEnv("PROGRAMS_SERVICE_TOKEN", ""),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enroll upserts the enrollment. The collaborator treats PUT as get-or-create,
// so redelivery and races collapse into one enrollment row on its side.
func (e *HTTPEnroller) Enroll(ctx context.Context, userID, programID uint) error {
	payload, err := json.Marshal(map[string]any{
		"user_id":    userID,
		"program_id": programID,
		"status":     "ongoing",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/internal/programs/%d/enrollments/%d", e.BaseURL, programID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.ServiceToken)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("enrollment request failed: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the enrollment already exists, which is exactly the state
	// we want.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return fmt.Errorf("enrollment upsert failed: status=%d body=%s", resp.StatusCode, string(body))
}
