package integrations

import (
	"fmt"
	"net/url"
	"time"
)

// TestRunParams describes the regression run to create.
type TestRunParams struct {
	Name     string `json:"name"`
	SuiteID  string `json:"suite_id,omitempty"`
	CycleTag string `json:"cycle_tag"`
}

// TestRun is the created run handle.
type TestRun struct {
	RunID string `json:"run_id"`
	URL   string `json:"url,omitempty"`
}

// TestRunStatus is the pass/fail breakdown of a run.
type TestRunStatus struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Untested int `json:"untested"`
}

// TestManagement is the contract with test-management systems. A nil client
// means no integration is configured and suite tasks are not generated.
type TestManagement interface {
	CreateRun(params TestRunParams) (*TestRun, error)
	ResetRun(runID string) error
	GetStatus(runID string) (*TestRunStatus, error)
}

type testManagementClient struct {
	*httpClient
}

// NewTestManagementClient creates an HTTP-backed test-management client.
func NewTestManagementClient(baseURL, token string, timeout time.Duration) TestManagement {
	return &testManagementClient{newHTTPClient(baseURL, token, timeout)}
}

func (c *testManagementClient) CreateRun(params TestRunParams) (*TestRun, error) {
	var run TestRun
	if err := c.doJSON("POST", "/runs", params, &run); err != nil {
		return nil, fmt.Errorf("failed to create test run: %w", err)
	}
	return &run, nil
}

func (c *testManagementClient) ResetRun(runID string) error {
	path := "/runs/" + url.PathEscape(runID) + "/reset"
	if err := c.doJSON("POST", path, nil, nil); err != nil {
		return fmt.Errorf("failed to reset test run: %w", err)
	}
	return nil
}

func (c *testManagementClient) GetStatus(runID string) (*TestRunStatus, error) {
	var status TestRunStatus
	path := "/runs/" + url.PathEscape(runID)
	if err := c.doJSON("GET", path, nil, &status); err != nil {
		return nil, fmt.Errorf("failed to get test run status: %w", err)
	}
	return &status, nil
}
