// Package payout hands completion facts to the external payout ledger.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskbridge/internal/config"
	"taskbridge/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Ledger records a completed task for payroll. Implementations must tolerate the
// same fact being delivered more than once.
type Ledger interface {
	Record(ctx context.Context, fact domain.CompletionFact) error
}

// WebhookLedger POSTs each fact as JSON to a configured endpoint.
type WebhookLedger struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookLedger(cfg config.PayoutConfig) *WebhookLedger {
	timeout := defaultWebhookTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &WebhookLedger{
		URL:    cfg.WebhookURL,
		Secret: cfg.Secret,
		Client: &http.Client{Timeout: timeout},
	}
}

type factBody struct {
	FactID         int64    `json:"fact_id"`
	TaskID         string   `json:"task_id"`
	OrganizationID string   `json:"organization_id"`
	StudentIDs     []string `json:"student_ids"`
	Compensation   int64    `json:"compensation"`
	DurationWeeks  int      `json:"duration_weeks"`
	WeeklyHours    int      `json:"weekly_hours"`
	PayrollTerms   string   `json:"payroll_terms,omitempty"`
	Rating         int      `json:"rating"`
	CompletedAt    string   `json:"completed_at"`
}

func (l *WebhookLedger) Record(ctx context.Context, fact domain.CompletionFact) error {
	if strings.TrimSpace(l.URL) == "" {
		return fmt.Errorf("payout webhook url not configured")
	}
	data, err := json.Marshal(factBody{
		FactID:         fact.ID,
		TaskID:         fact.TaskID,
		OrganizationID: fact.OrganizationID,
		StudentIDs:     fact.StudentIDs,
		Compensation:   fact.Compensation,
		DurationWeeks:  fact.DurationWeeks,
		WeeklyHours:    fact.WeeklyHours,
		PayrollTerms:   fact.PayrollTerms,
		Rating:         fact.Rating,
		CompletedAt:    fact.CompletedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TaskBridge-Fact", fmt.Sprintf("%d", fact.ID))
	if strings.TrimSpace(l.Secret) != "" {
		req.Header.Set("X-TaskBridge-Secret", l.Secret)
	}
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
