package server

import (
	"time"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
)

// Request payloads

type CreateOrganizationRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type UpsertStudentRequest struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Skills           []string `json:"skills,omitempty"`
	AvailabilityBand string   `json:"availability_band,omitempty"`
}

type SubmitTaskRequest struct {
	ID             string     `json:"id,omitempty"`
	OrganizationID string     `json:"organization_id,omitempty" doc:"Required when an admin submits on behalf of an organization"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	RequiredSkills []string   `json:"required_skills,omitempty"`
	PositionsTotal int        `json:"positions_total" minimum:"1"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	DurationWeeks  int        `json:"duration_weeks,omitempty"`
	WeeklyHours    int        `json:"weekly_hours,omitempty"`
	Compensation   int64      `json:"compensation,omitempty"`
	PayrollTerms   string     `json:"payroll_terms,omitempty"`
}

type ReviewTaskRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
}

type CancelTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CompleteTaskRequest struct {
	Rating   *int   `json:"rating,omitempty" doc:"1 to 5; required to complete"`
	Feedback string `json:"feedback,omitempty"`
}

type CreateOfferRequest struct {
	StudentID    string     `json:"student_id"`
	Compensation int64      `json:"compensation,omitempty" doc:"Defaults to the task compensation"`
	StartDate    *time.Time `json:"start_date,omitempty" doc:"Defaults to the task start date"`
}

type ResolveOfferRequest struct {
	Action string `json:"action" enum:"accept,decline"`
}

type ReportUnavailableRequest struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason,omitempty"`
}

type SendReplacementOffersRequest struct {
	StudentIDs   []string   `json:"student_ids" minItems:"1"`
	Compensation int64      `json:"compensation,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"admin,organization,student"`
}

// Response payloads

type ReplacementResponse struct {
	domain.ReplacementRequest
	Overdue bool `json:"overdue"`
}

type SendReplacementOffersResponse struct {
	Replacement ReplacementResponse `json:"replacement"`
	Offers      []domain.Offer      `json:"offers"`
}

type SweepResponse struct {
	ExpiredOffers       []domain.Offer        `json:"expired_offers"`
	OverdueReplacements []ReplacementResponse `json:"overdue_replacements"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func (r SubmitTaskRequest) submission() engine.TaskSubmission {
	in := engine.TaskSubmission{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Title:          r.Title,
		Description:    r.Description,
		RequiredSkills: r.RequiredSkills,
		PositionsTotal: r.PositionsTotal,
		DurationWeeks:  r.DurationWeeks,
		WeeklyHours:    r.WeeklyHours,
		Compensation:   r.Compensation,
		PayrollTerms:   r.PayrollTerms,
	}
	if r.StartDate != nil {
		in.StartDate = *r.StartDate
	}
	return in
}

func replacementResponse(e engine.Engine, rr domain.ReplacementRequest) ReplacementResponse {
	return ReplacementResponse{ReplacementRequest: rr, Overdue: e.Overdue(rr)}
}

func mapReplacements(e engine.Engine, items []domain.ReplacementRequest) []ReplacementResponse {
	res := make([]ReplacementResponse, 0, len(items))
	for _, rr := range items {
		res = append(res, replacementResponse(e, rr))
	}
	return res
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
