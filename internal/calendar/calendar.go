// Package calendar books rental-end reminders through a calendar tool exposed
// by an MCP server.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/logger"
	"github.com/comigor/quotebot/internal/pricing"
)

// ErrNotConfigured is returned by Unavailable.
var ErrNotConfigured = errors.New("calendar: not configured")

// Reminder books a follow-up for a quote. A false result without error means
// the provider declined the booking.
type Reminder interface {
	CreateReminder(ctx context.Context, q pricing.Quote, conversationID string, start, end time.Time) (bool, error)
}

// ToolCaller is the part of an MCP client the reminder needs.
type ToolCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPReminder creates an all-day event on the rental end date.
type MCPReminder struct {
	client     ToolCaller
	tool       string
	calendarID string
	timeZone   string
}

func NewMCPReminder(client ToolCaller, cfg config.CalendarConfig) *MCPReminder {
	return &MCPReminder{
		client:     client,
		tool:       cfg.Tool,
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
	}
}

func (r *MCPReminder) CreateReminder(ctx context.Context, q pricing.Quote, conversationID string, start, end time.Time) (bool, error) {
	if start.IsZero() || end.IsZero() {
		logger.L.Warn("reminder skipped: missing rental dates", "conversation_id", conversationID)
		return false, nil
	}

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      r.tool,
			Arguments: EventArguments(q, conversationID, start, end, r.calendarID, r.timeZone),
		},
	}
	logger.L.Debug("Attempting CallTool", "tool", r.tool, "conversation_id", conversationID)
	res, err := r.client.CallTool(ctx, req)
	if err != nil {
		return false, fmt.Errorf("call %s: %w", r.tool, err)
	}
	if res == nil {
		return false, fmt.Errorf("call %s: empty result", r.tool)
	}
	if res.IsError {
		logger.L.Warn("calendar tool reported an error", "tool", r.tool, "conversation_id", conversationID, "detail", resultText(res))
		return false, nil
	}
	logger.L.Info("rental reminder created", "conversation_id", conversationID, "quote", q.Number, "detail", resultText(res))
	return true, nil
}

// EventArguments builds the tool arguments for an all-day event on the end
// date. The event's exclusive end is the following day.
func EventArguments(q pricing.Quote, conversationID string, start, end time.Time, calendarID, timeZone string) map[string]any {
	return map[string]any{
		"calendar_id": calendarID,
		"summary":     "FIN DE RENTA: " + q.Machine.ModelName,
		"description": describe(q, conversationID, start, end),
		"start_date":  end.Format(time.DateOnly),
		"end_date":    end.AddDate(0, 0, 1).Format(time.DateOnly),
		"all_day":     true,
		"time_zone":   timeZone,
	}
}

func describe(q pricing.Quote, conversationID string, start, end time.Time) string {
	var b strings.Builder
	b.WriteString("Este día finaliza el período de renta. Coordinar recolección del equipo.\n\n")
	fmt.Fprintf(&b, "Cliente (Chat ID): %s\n", conversationID)
	fmt.Fprintf(&b, "Equipo: %s\n", q.Machine.ModelName)
	fmt.Fprintf(&b, "Folio: %s\n", q.Number)
	fmt.Fprintf(&b, "Fecha de inicio de renta: %s\n", start.Format(time.DateOnly))
	fmt.Fprintf(&b, "Fecha de fin de renta: %s\n", end.Format(time.DateOnly))
	fmt.Fprintf(&b, "Monto total: %s MXN", pricing.FormatMoney(q.Total))
	return b.String()
}

func resultText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

// Unavailable is used when no calendar server is configured; every booking fails.
type Unavailable struct{}

func (Unavailable) CreateReminder(context.Context, pricing.Quote, string, time.Time, time.Time) (bool, error) {
	return false, ErrNotConfigured
}
