package taskbridgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal TaskBridge HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for baseURL, which includes the API base path (for example http://host:8080/v1).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID              string   `json:"id"`
	OrganizationID  string   `json:"organization_id"`
	Title           string   `json:"title"`
	RequiredSkills  []string `json:"required_skills"`
	PositionsTotal  int      `json:"positions_total"`
	PositionsFilled int      `json:"positions_filled"`
	Status          string   `json:"status"`
	Compensation    int64    `json:"compensation"`
	Rating          *int     `json:"rating,omitempty"`
	Version         int64    `json:"version"`
}

// TaskInput is the body of a task submission.
type TaskInput struct {
	OrganizationID string   `json:"organization_id,omitempty"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	PositionsTotal int      `json:"positions_total"`
	DurationWeeks  int      `json:"duration_weeks,omitempty"`
	WeeklyHours    int      `json:"weekly_hours,omitempty"`
	Compensation   int64    `json:"compensation,omitempty"`
}

// Offer represents an offer to one student.
type Offer struct {
	ID                   string  `json:"id"`
	TaskID               string  `json:"task_id"`
	StudentID            string  `json:"student_id"`
	Status               string  `json:"status"`
	SentAt               string  `json:"sent_at"`
	ExpiresAt            string  `json:"expires_at"`
	Compensation         int64   `json:"compensation"`
	ReplacementRequestID *string `json:"replacement_request_id,omitempty"`
}

// Replacement represents a replacement request and its SLA state.
type Replacement struct {
	ID               string `json:"id"`
	TaskID           string `json:"task_id"`
	VacatedStudentID string `json:"vacated_student_id"`
	Status           string `json:"status"`
	Deadline         string `json:"deadline"`
	Overdue          bool   `json:"overdue"`
}

// Candidate is one ranked shortlist entry.
type Candidate struct {
	Student struct {
		ID     string   `json:"id"`
		Name   string   `json:"name"`
		Skills []string `json:"skills"`
	} `json:"student"`
	Score int `json:"score"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses. Code carries the server's error code when the body is an error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitTask submits a task for review.
func (c *Client) SubmitTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

// ReviewTask approves or rejects a pending task.
func (c *Client) ReviewTask(ctx context.Context, taskID, decision string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "review"), map[string]any{"decision": decision}, &resp)
	return resp, err
}

// CompleteTask completes an active task with a 1 to 5 rating.
func (c *Client) CompleteTask(ctx context.Context, taskID string, rating int, feedback string) (Task, error) {
	body := map[string]any{
		"rating":   rating,
		"feedback": feedback,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "complete"), body, &resp)
	return resp, err
}

// SendOffer issues an offer for one position of a task.
func (c *Client) SendOffer(ctx context.Context, taskID, studentID string) (Offer, error) {
	var resp Offer
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "offers"), map[string]any{"student_id": studentID}, &resp)
	return resp, err
}

// ResolveOffer accepts or declines an offer.
func (c *Client) ResolveOffer(ctx context.Context, offerID, action string) (Offer, error) {
	var resp Offer
	endpoint := fmt.Sprintf("offers/%s/resolve", url.PathEscape(offerID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"action": action}, &resp)
	return resp, err
}

// ReportUnavailable frees the student's position and opens a replacement request.
func (c *Client) ReportUnavailable(ctx context.Context, taskID, studentID, reason string) (Replacement, error) {
	body := map[string]any{
		"student_id": studentID,
		"reason":     reason,
	}
	var resp Replacement
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "replacements"), body, &resp)
	return resp, err
}

// Shortlist returns ranked candidates for a replacement request.
func (c *Client) Shortlist(ctx context.Context, requestID string, limit int) ([]Candidate, error) {
	endpoint := fmt.Sprintf("replacements/%s/shortlist", url.PathEscape(requestID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Candidate `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// SendReplacementOffers offers the vacated position to each listed student.
func (c *Client) SendReplacementOffers(ctx context.Context, requestID string, studentIDs []string) (Replacement, []Offer, error) {
	var resp struct {
		Replacement Replacement `json:"replacement"`
		Offers      []Offer     `json:"offers"`
	}
	endpoint := fmt.Sprintf("replacements/%s/offers", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"student_ids": studentIDs}, &resp)
	return resp.Replacement, resp.Offers, err
}

// Events returns recent events, newest first. With after > 0 it returns events after that id, oldest first.
func (c *Client) Events(ctx context.Context, limit int, after int64) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if after > 0 {
		q.Set("after", fmt.Sprint(after))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func taskPath(taskID, p string) string {
	return fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
