package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/comigor/quotebot/internal/calendar"
	"github.com/comigor/quotebot/internal/delivery"
	"github.com/comigor/quotebot/internal/document"
	"github.com/comigor/quotebot/internal/logger"
)

const (
	msgDocumentDelivered = "📄 Aquí tienes el PDF de tu cotización que había quedado pendiente."
	msgBookingDelivered  = "🗓️ Ya quedó agendado el recordatorio de fin de renta. ¡Gracias por tu paciencia!"
)

// ErrBookingDeclined is returned when the calendar answered without booking.
var ErrBookingDeclined = errors.New("outbox: calendar declined the booking")

// DocumentHandler re-renders the quote and sends the file.
func DocumentHandler(gen document.Generator, ch delivery.Channel, filename string) Handler {
	return func(ctx context.Context, job Job) error {
		blob, err := gen.Render(ctx, job.Quote)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		if err := ch.SendFile(ctx, job.ConversationID, blob, filename); err != nil {
			return fmt.Errorf("send file: %w", err)
		}
		notify(ctx, ch, job.ConversationID, msgDocumentDelivered)
		return nil
	}
}

// BookingHandler retries the rental-end reminder.
func BookingHandler(rem calendar.Reminder, ch delivery.Channel) Handler {
	return func(ctx context.Context, job Job) error {
		ok, err := rem.CreateReminder(ctx, job.Quote, job.ConversationID, job.Quote.RentalStart, job.Quote.RentalEnd)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBookingDeclined
		}
		notify(ctx, ch, job.ConversationID, msgBookingDelivered)
		return nil
	}
}

func notify(ctx context.Context, ch delivery.Channel, conversationID, text string) {
	if err := ch.SendText(ctx, conversationID, text, delivery.Plain); err != nil {
		logger.L.Warn("send failed", "conversation_id", conversationID, "error", err)
	}
}
