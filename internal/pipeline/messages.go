package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/comigor/quotebot/internal/delivery"
	"github.com/comigor/quotebot/internal/pricing"
)

// User-facing texts. Every failure has its own message so the user can tell
// which stage went wrong.
const (
	MsgLookupMiss       = "Hubo un error al buscar los detalles de la máquina. Un asesor se pondrá en contacto."
	MsgPricingFailed    = "No pude calcular el precio de esta máquina en este momento. Un asesor se pondrá en contacto contigo."
	MsgDocumentProgress = "📄 Generando tu cotización en formato PDF, un momento por favor..."
	MsgDocumentFailed   = "Tuve un problema al generar el documento PDF, pero un asesor tiene tus datos."
	MsgBookingProgress  = "🗓️ Agendando el recordatorio en nuestro calendario..."
	MsgBookingFailed    = "Tuve un problema al agendar el recordatorio de fin de renta, pero un asesor se pondrá en contacto a la brevedad."

	MsgSummaryAll          = "✅ ¡Listo! Tu cotización ha sido enviada en PDF y hemos agendado el recordatorio. ¡Gracias por tu interés!"
	MsgSummaryDocumentOnly = "✅ Tu cotización ha sido enviada. Tuvimos un problema al agendar el recordatorio, pero un asesor se pondrá en contacto a la brevedad."
	MsgSummaryBookingOnly  = "✅ Hemos agendado el recordatorio de tu renta. No pudimos enviarte el PDF, pero un asesor te lo hará llegar."
	MsgSummaryNone         = "Tu cotización quedó registrada, pero no pudimos enviar el PDF ni agendar el recordatorio. Un asesor se pondrá en contacto a la brevedad."
)

func summary(documentSent, booked bool) string {
	switch {
	case documentSent && booked:
		return MsgSummaryAll
	case documentSent:
		return MsgSummaryDocumentOnly
	case booked:
		return MsgSummaryBookingOnly
	default:
		return MsgSummaryNone
	}
}

// FormatBreakdown renders the quote as a Markdown message.
func FormatBreakdown(q pricing.Quote) string {
	var b strings.Builder
	b.WriteString("✅ ¡Aquí tienes el desglose de tu cotización!\n\n")
	fmt.Fprintf(&b, "*Máquina:* %s\n", delivery.EscapeMarkdown(q.Machine.ModelName))
	fmt.Fprintf(&b, "*Descripción:* %s\n", delivery.EscapeMarkdown(orNA(q.Machine.Description)))
	fmt.Fprintf(&b, "*Duración solicitada:* %s\n", delivery.EscapeMarkdown(orNA(q.DurationText)))
	if !q.RentalStart.IsZero() && !q.RentalEnd.IsZero() {
		fmt.Fprintf(&b, "*Periodo:* %s al %s\n", q.RentalStart.Format(time.DateOnly), q.RentalEnd.Format(time.DateOnly))
	}
	b.WriteString("---\n")
	fmt.Fprintf(&b, "*Subtotal:* %s MXN\n", pricing.FormatMoney(q.Subtotal))
	fmt.Fprintf(&b, "*IVA (16%%):* %s MXN\n", pricing.FormatMoney(q.Tax))
	fmt.Fprintf(&b, "*Total:* *%s MXN*\n\n", pricing.FormatMoney(q.Total))
	b.WriteString("_Este es un costo preliminar. A continuación generaré el PDF formal y agendaré el fin de la renta en nuestro calendario._")
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
