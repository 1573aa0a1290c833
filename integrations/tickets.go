package integrations

import (
	"fmt"
	"net/url"
	"time"
)

// TicketParams describes the release-approval ticket to open.
type TicketParams struct {
	ProjectKey string `json:"project_key"`
	Summary    string `json:"summary"`
	Body       string `json:"body,omitempty"`
}

// Ticket is the created ticket handle.
type Ticket struct {
	TicketID string `json:"ticket_id"`
	URL      string `json:"url,omitempty"`
}

// Ticketing is the contract with project-management systems gating release
// approval. When no ticketing integration is configured the approval falls
// back to the manual operator endpoint.
type Ticketing interface {
	CreateTicket(params TicketParams) (*Ticket, error)
	GetTicketStatus(ticketID string) (string, error)
}

type ticketClient struct {
	*httpClient
	projectKey string
}

// NewTicketClient creates an HTTP-backed ticketing client.
func NewTicketClient(baseURL, token, projectKey string, timeout time.Duration) Ticketing {
	return &ticketClient{httpClient: newHTTPClient(baseURL, token, timeout), projectKey: projectKey}
}

func (c *ticketClient) CreateTicket(params TicketParams) (*Ticket, error) {
	if params.ProjectKey == "" {
		params.ProjectKey = c.projectKey
	}

	var ticket Ticket
	if err := c.doJSON("POST", "/tickets", params, &ticket); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return &ticket, nil
}

func (c *ticketClient) GetTicketStatus(ticketID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	path := "/tickets/" + url.PathEscape(ticketID)
	if err := c.doJSON("GET", path, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to get ticket status: %w", err)
	}
	return resp.Status, nil
}
