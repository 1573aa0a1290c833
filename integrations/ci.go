package integrations

import (
	"fmt"
	"net/url"
	"time"
)

// WorkflowParams identifies what a CI run should build.
type WorkflowParams struct {
	Workflow string            `json:"workflow"`
	Branch   string            `json:"branch"`
	Inputs   map[string]string `json:"inputs,omitempty"`
}

// WorkflowRun is the handle a CI system returns for a triggered run.
type WorkflowRun struct {
	RunRef string `json:"run_ref"`
	URL    string `json:"url,omitempty"`
}

// RunStatus is a CI run's current state.
type RunStatus struct {
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, cancelled
}

// CI is the contract with build systems (Jenkins, GitHub Actions). The
// engine only treats them as task-completion sources.
type CI interface {
	TriggerWorkflow(params WorkflowParams) (*WorkflowRun, error)
	GetRunStatus(runRef string) (*RunStatus, error)
}

type ciClient struct {
	*httpClient
}

// NewCIClient creates an HTTP-backed CI client.
func NewCIClient(baseURL, token string, timeout time.Duration) CI {
	return &ciClient{newHTTPClient(baseURL, token, timeout)}
}

func (c *ciClient) TriggerWorkflow(params WorkflowParams) (*WorkflowRun, error) {
	var run WorkflowRun
	if err := c.doJSON("POST", "/workflows/dispatch", params, &run); err != nil {
		return nil, fmt.Errorf("failed to trigger workflow %s: %w", params.Workflow, err)
	}
	return &run, nil
}

func (c *ciClient) GetRunStatus(runRef string) (*RunStatus, error) {
	var status RunStatus
	path := "/runs/" + url.PathEscape(runRef)
	if err := c.doJSON("GET", path, nil, &status); err != nil {
		return nil, fmt.Errorf("failed to get run status: %w", err)
	}
	return &status, nil
}
