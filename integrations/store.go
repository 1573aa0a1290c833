package integrations

import (
	"fmt"
	"net/url"
	"time"
)

// SubmitParams describes the build being sent for store review.
type SubmitParams struct {
	VersionName string `json:"version_name"`
	BuildNumber string `json:"build_number"`
	Branch      string `json:"branch,omitempty"`
}

// ReviewStatus is the store's view of a submission: its review verdict and
// the rollout fraction the store currently reports.
type ReviewStatus struct {
	Status     string  `json:"status"`
	RolloutPct float64 `json:"rollout_pct"`
}

// Store is the contract with one platform's store API (Play Store or App
// Store Connect). Only the rollout state machine talks to it.
type Store interface {
	Submit(params SubmitParams) error
	SetRollout(versionName string, pct float64) error
	PauseRollout(versionName string) error
	ResumeRollout(versionName string) error
	Halt(versionName string) error
	GetReviewStatus(versionName string) (*ReviewStatus, error)
}

type storeClient struct {
	*httpClient
	appIdentifier string
}

// NewStoreClient creates an HTTP-backed store client for one platform.
func NewStoreClient(baseURL, token, appIdentifier string, timeout time.Duration) Store {
	return &storeClient{httpClient: newHTTPClient(baseURL, token, timeout), appIdentifier: appIdentifier}
}

func (c *storeClient) versionPath(versionName, suffix string) string {
	return "/apps/" + url.PathEscape(c.appIdentifier) + "/versions/" + url.PathEscape(versionName) + suffix
}

func (c *storeClient) Submit(params SubmitParams) error {
	path := "/apps/" + url.PathEscape(c.appIdentifier) + "/submissions"
	if err := c.doJSON("POST", path, params, nil); err != nil {
		return fmt.Errorf("failed to submit %s to store: %w", params.VersionName, err)
	}
	return nil
}

func (c *storeClient) SetRollout(versionName string, pct float64) error {
	body := map[string]float64{"rollout_pct": pct}
	if err := c.doJSON("PATCH", c.versionPath(versionName, "/rollout"), body, nil); err != nil {
		return fmt.Errorf("failed to set rollout: %w", err)
	}
	return nil
}

func (c *storeClient) PauseRollout(versionName string) error {
	if err := c.doJSON("POST", c.versionPath(versionName, "/rollout/pause"), nil, nil); err != nil {
		return fmt.Errorf("failed to pause rollout: %w", err)
	}
	return nil
}

func (c *storeClient) ResumeRollout(versionName string) error {
	if err := c.doJSON("POST", c.versionPath(versionName, "/rollout/resume"), nil, nil); err != nil {
		return fmt.Errorf("failed to resume rollout: %w", err)
	}
	return nil
}

func (c *storeClient) Halt(versionName string) error {
	if err := c.doJSON("POST", c.versionPath(versionName, "/rollout/halt"), nil, nil); err != nil {
		return fmt.Errorf("failed to halt rollout: %w", err)
	}
	return nil
}

func (c *storeClient) GetReviewStatus(versionName string) (*ReviewStatus, error) {
	var status ReviewStatus
	if err := c.doJSON("GET", c.versionPath(versionName, "/review"), nil, &status); err != nil {
		return nil, fmt.Errorf("failed to get review status: %w", err)
	}
	return &status, nil
}
