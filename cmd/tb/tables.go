package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
)

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func renderTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := newTable(table.Row{"ID", "Org", "Title", "Status", "Filled", "Skills", "Compensation"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{
			t.ID, t.OrganizationID, t.Title, t.Status,
			fmt.Sprintf("%d/%d", t.PositionsFilled, t.PositionsTotal),
			strings.Join(t.RequiredSkills, ","), t.Compensation,
		})
	}
	tw.Render()
	return nil
}

func renderOffers(offers []domain.Offer) error {
	if viper.GetBool("json") {
		return printJSON(offers)
	}
	tw := newTable(table.Row{"ID", "Task", "Student", "Status", "Sent", "Expires", "Replacement", "Vacated"})
	for _, o := range offers {
		rr := ""
		if o.ReplacementRequestID != nil {
			rr = *o.ReplacementRequestID
		}
		tw.AppendRow(table.Row{
			o.ID, o.TaskID, o.StudentID, o.Status,
			formatTime(&o.SentAt), formatTime(&o.ExpiresAt), rr, formatTime(o.VacatedAt),
		})
	}
	tw.Render()
	return nil
}

func renderReplacements(e engine.Engine, items []domain.ReplacementRequest) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Task", "Vacated", "Status", "Deadline", "Overdue", "Filled By"})
	for _, rr := range items {
		filled := ""
		if rr.FilledByOfferID != nil {
			filled = *rr.FilledByOfferID
		}
		tw.AppendRow(table.Row{
			rr.ID, rr.TaskID, rr.VacatedStudentID, rr.Status,
			formatTime(&rr.Deadline), e.Overdue(rr), filled,
		})
	}
	tw.Render()
	return nil
}

func renderCandidates(items []domain.Candidate) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"#", "Student", "Name", "Score", "Skills", "Rating"})
	for i, c := range items {
		tw.AppendRow(table.Row{
			i + 1, c.Student.ID, c.Student.Name, c.Score,
			strings.Join(c.Student.Skills, ","), fmt.Sprintf("%.2f", c.Student.Rating),
		})
	}
	tw.Render()
	return nil
}

func renderStudents(items []domain.StudentProfile) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Name", "Skills", "Availability", "Rating", "Completed"})
	for _, s := range items {
		tw.AppendRow(table.Row{
			s.ID, s.Name, strings.Join(s.Skills, ","), s.AvailabilityBand,
			fmt.Sprintf("%.2f (%d)", s.Rating, s.RatingsCount), s.TasksCompleted,
		})
	}
	tw.Render()
	return nil
}

func renderEvents(items []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
	for _, evt := range items {
		tw.AppendRow(table.Row{
			evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload,
		})
	}
	tw.Render()
	return nil
}
