package export

import (
	"fmt"
	"io"
	"time"

	"talep/internal/models"

	ics "github.com/arran4/golang-ical"
)

const productID = "-//talep//reservations//TR"

// WriteCalendar renders the blocking reservations of one resource as an
// iCalendar feed. Approved reservations are CONFIRMED, pending ones TENTATIVE;
// rejected and cancelled reservations are left out.
func WriteCalendar(w io.Writer, resource *models.Resource, reservations []*models.Reservation, stamp time.Time) error {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName(resource.DisplayName())

	for _, r := range reservations {
		if r.ResourceID != resource.ID {
			continue
		}
		var status ics.ObjectStatus
		switch r.Status {
		case models.StatusApproved:
			status = ics.ObjectStatusConfirmed
		case models.StatusPending:
			status = ics.ObjectStatusTentative
		default:
			continue
		}

		event := cal.AddEvent(fmt.Sprintf("reservation-%d@talep", r.ID))
		event.SetDtStampTime(stamp.UTC())
		event.SetStartAt(r.Start.UTC())
		event.SetEndAt(r.End.UTC())
		event.SetModifiedAt(r.UpdatedAt.UTC())
		event.SetStatus(status)
		event.SetLocation(resource.DisplayName())

		summary := r.Purpose
		if summary == "" {
			summary = resource.DisplayName()
		}
		event.SetSummary(summary)
		event.SetDescription(calendarDescription(r))
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("error writing calendar: %w", err)
	}
	return nil
}

func calendarDescription(r *models.Reservation) string {
	desc := fmt.Sprintf("Durum: %s", StatusLabel(r.Status))
	if r.ParticipantCount != nil {
		desc += fmt.Sprintf("\nKatılımcı: %d", r.Participants())
	}
	if r.Notes != "" {
		desc += "\n" + r.Notes
	}
	return desc
}
