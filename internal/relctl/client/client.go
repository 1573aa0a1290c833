package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

// Client is a release orchestrator API client
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a new release orchestrator API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) joinURL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// do sends a request and decodes the response into out when non-nil.
func (c *Client) do(method, path string, reqBody, out interface{}, wantStatus int) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, c.joinURL(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Kickoff starts a new release train
func (c *Client) Kickoff(req models.KickoffRequest) (*models.Release, error) {
	var release models.Release
	if err := c.do("POST", "api/v1/releases", req, &release, http.StatusCreated); err != nil {
		return nil, err
	}
	return &release, nil
}

// ListReleases lists releases, optionally filtered by app
func (c *Client) ListReleases(appID string, limit, offset int) (*models.ListReleasesResponse, error) {
	q := url.Values{}
	if appID != "" {
		q.Set("app_id", appID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	path := "api/v1/releases"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var resp models.ListReleasesResponse
	if err := c.do("GET", path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRelease fetches a release with its cycles and submissions
func (c *Client) GetRelease(id string) (*models.ReleaseDetailResponse, error) {
	var resp models.ReleaseDetailResponse
	if err := c.do("GET", "api/v1/releases/"+url.PathEscape(id), nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause pauses a release
func (c *Client) Pause(id, reason string) (*models.Release, error) {
	var release models.Release
	req := models.PauseRequest{Reason: reason}
	if err := c.do("POST", "api/v1/releases/"+url.PathEscape(id)+"/pause", req, &release, http.StatusOK); err != nil {
		return nil, err
	}
	return &release, nil
}

// Resume resumes a paused release
func (c *Client) Resume(id string) (*models.Release, error) {
	var release models.Release
	if err := c.do("POST", "api/v1/releases/"+url.PathEscape(id)+"/resume", struct{}{}, &release, http.StatusOK); err != nil {
		return nil, err
	}
	return &release, nil
}

// Archive archives a finished or abandoned release
func (c *Client) Archive(id string) (*models.Release, error) {
	var release models.Release
	if err := c.do("POST", "api/v1/releases/"+url.PathEscape(id)+"/archive", struct{}{}, &release, http.StatusOK); err != nil {
		return nil, err
	}
	return &release, nil
}

// Approve records release approval when no ticketing system is wired
func (c *Client) Approve(id, approvedBy string) (*models.Release, error) {
	var release models.Release
	req := models.ApproveRequest{ApprovedBy: approvedBy}
	if err := c.do("POST", "api/v1/releases/"+url.PathEscape(id)+"/approve", req, &release, http.StatusOK); err != nil {
		return nil, err
	}
	return &release, nil
}

// CreateCycle manually fires a regression cycle
func (c *Client) CreateCycle(releaseID string) (*models.RegressionCycle, error) {
	var cycle models.RegressionCycle
	if err := c.do("POST", "api/v1/releases/"+url.PathEscape(releaseID)+"/cycles", struct{}{}, &cycle, http.StatusCreated); err != nil {
		return nil, err
	}
	return &cycle, nil
}

// ListTasks lists a release's tasks
func (c *Client) ListTasks(releaseID string) (*models.ListTasksResponse, error) {
	var resp models.ListTasksResponse
	if err := c.do("GET", "api/v1/releases/"+url.PathEscape(releaseID)+"/tasks", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryTask resets a failed task and re-executes it
func (c *Client) RetryTask(taskID string) (*models.ReleaseTask, error) {
	var task models.ReleaseTask
	if err := c.do("POST", "api/v1/tasks/"+url.PathEscape(taskID)+"/retry", struct{}{}, &task, http.StatusOK); err != nil {
		return nil, err
	}
	return &task, nil
}

type listSubmissionsResponse struct {
	Submissions []models.Submission `json:"submissions"`
}

// ListSubmissions lists a release's store submissions
func (c *Client) ListSubmissions(releaseID string) ([]models.Submission, error) {
	var resp listSubmissionsResponse
	if err := c.do("GET", "api/v1/releases/"+url.PathEscape(releaseID)+"/submissions", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Submissions, nil
}

// ListHistory fetches a submission's audit trail
func (c *Client) ListHistory(submissionID string) (*models.ListHistoryResponse, error) {
	var resp models.ListHistoryResponse
	if err := c.do("GET", "api/v1/submissions/"+url.PathEscape(submissionID)+"/history", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateRollout raises a staged rollout percentage
func (c *Client) UpdateRollout(submissionID string, percent float64, actor string) (*models.Submission, error) {
	var sub models.Submission
	req := models.RolloutUpdateRequest{Percent: percent, Actor: actor}
	if err := c.do("POST", "api/v1/submissions/"+url.PathEscape(submissionID)+"/rollout", req, &sub, http.StatusOK); err != nil {
		return nil, err
	}
	return &sub, nil
}

// PauseRollout pauses an iOS phased release
func (c *Client) PauseRollout(submissionID, actor string) (*models.Submission, error) {
	var sub models.Submission
	req := models.RolloutActionRequest{Actor: actor}
	if err := c.do("POST", "api/v1/submissions/"+url.PathEscape(submissionID)+"/rollout/pause", req, &sub, http.StatusOK); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ResumeRollout resumes a paused iOS phased release
func (c *Client) ResumeRollout(submissionID, actor string) (*models.Submission, error) {
	var sub models.Submission
	req := models.RolloutActionRequest{Actor: actor}
	if err := c.do("POST", "api/v1/submissions/"+url.PathEscape(submissionID)+"/rollout/resume", req, &sub, http.StatusOK); err != nil {
		return nil, err
	}
	return &sub, nil
}

// HaltRollout permanently stops distribution of a submitted build
func (c *Client) HaltRollout(submissionID, reason, actor string) (*models.Submission, error) {
	var sub models.Submission
	req := models.RolloutStopRequest{Reason: reason, Actor: actor}
	if err := c.do("POST", "api/v1/submissions/"+url.PathEscape(submissionID)+"/halt", req, &sub, http.StatusOK); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubmission withdraws a submission that is not live yet
func (c *Client) CancelSubmission(submissionID, reason, actor string) (*models.Submission, error) {
	var sub models.Submission
	req := models.RolloutStopRequest{Reason: reason, Actor: actor}
	if err := c.do("POST", "api/v1/submissions/"+url.PathEscape(submissionID)+"/cancel", req, &sub, http.StatusOK); err != nil {
		return nil, err
	}
	return &sub, nil
}

// RetrySubmission resubmits a rejected build to the store
func (c *Client) RetrySubmission(submissionID, actor string) (*models.Submission, error) {
	var sub models.Submission
	req := models.RolloutActionRequest{Actor: actor}
	if err := c.do("POST", "api/v1/submissions/"+url.PathEscape(submissionID)+"/retry", req, &sub, http.StatusCreated); err != nil {
		return nil, err
	}
	return &sub, nil
}
