package notify

import (
	"fmt"
	"strings"

	"talep/internal/events"
	"talep/internal/models"
)

// MessageKind is the transition a notification reports.
type MessageKind string

const (
	KindReceived  MessageKind = "received"
	KindApproved  MessageKind = "approved"
	KindRejected  MessageKind = "rejected"
	KindCancelled MessageKind = "cancelled"
)

// KindForEvent maps a bus event type to a message kind. ok is false for
// events that do not notify anyone.
func KindForEvent(eventType string) (MessageKind, bool) {
	switch eventType {
	case events.EventReservationCreated:
		return KindReceived, true
	case events.EventReservationApproved:
		return KindApproved, true
	case events.EventReservationRejected:
		return KindRejected, true
	case events.EventReservationCancelled:
		return KindCancelled, true
	default:
		return "", false
	}
}

// MessageData holds what the templates need, already rendered for display.
type MessageData struct {
	ResourceName  string
	Range         string
	ActorName     string
	RequesterName string
	Purpose       string
	Reason        string
	Participants  int
}

// RequesterMessage is the text sent to the person who made the request.
func RequesterMessage(kind MessageKind, d MessageData) string {
	var b strings.Builder
	switch kind {
	case KindReceived:
		fmt.Fprintf(&b, "Talebiniz alındı: %s, %s.", d.ResourceName, d.Range)
		if d.Participants > 0 {
			fmt.Fprintf(&b, " Katılımcı: %d.", d.Participants)
		}
		b.WriteString(" Onay bekleniyor.")
	case KindApproved:
		fmt.Fprintf(&b, "Talebiniz onaylandı: %s, %s.", d.ResourceName, d.Range)
		if d.ActorName != "" {
			fmt.Fprintf(&b, " Onaylayan: %s.", d.ActorName)
		}
	case KindRejected:
		fmt.Fprintf(&b, "Talebiniz reddedildi: %s, %s.", d.ResourceName, d.Range)
		if d.Reason != "" {
			fmt.Fprintf(&b, " Gerekçe: %s", d.Reason)
		}
	case KindCancelled:
		fmt.Fprintf(&b, "Rezervasyon iptal edildi: %s, %s.", d.ResourceName, d.Range)
		if d.ActorName != "" {
			fmt.Fprintf(&b, " İptal eden: %s.", d.ActorName)
		}
	}
	return b.String()
}

// AdminMessage is the text for admin phones. Empty for kinds admins do not get.
func AdminMessage(kind MessageKind, d MessageData) string {
	var b strings.Builder
	switch kind {
	case KindReceived:
		fmt.Fprintf(&b, "Yeni talep: %s, %s. Talep eden: %s.", d.ResourceName, d.Range, d.RequesterName)
		if d.Participants > 0 {
			fmt.Fprintf(&b, " Katılımcı: %d.", d.Participants)
		}
		if d.Purpose != "" {
			fmt.Fprintf(&b, " Amaç: %s", d.Purpose)
		}
	case KindCancelled:
		fmt.Fprintf(&b, "İptal: %s, %s. Talep eden: %s.", d.ResourceName, d.Range, d.RequesterName)
		if d.ActorName != "" && d.ActorName != d.RequesterName {
			fmt.Fprintf(&b, " İptal eden: %s.", d.ActorName)
		}
	}
	return b.String()
}

func resourceLabel(p *events.ReservationEventPayload) string {
	if p.ResourceName != "" {
		return p.ResourceName
	}
	if p.Reservation.ResourceKind == models.KindRoom {
		return fmt.Sprintf("Salon #%d", p.Reservation.ResourceID)
	}
	return fmt.Sprintf("Araç #%d", p.Reservation.ResourceID)
}
