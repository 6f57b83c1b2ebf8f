package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comigor/quotebot/internal/catalog"
	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/delivery"
	"github.com/comigor/quotebot/internal/intent"
	"github.com/comigor/quotebot/internal/outbox"
	"github.com/comigor/quotebot/internal/pricing"
)

type sentMessage struct {
	text   string
	format delivery.Format
}

type recordingChannel struct {
	mu       sync.Mutex
	texts    []sentMessage
	files    []string
	textErr  error
	fileErr  error
	messages []string // texts and "file:<name>" in send order
}

func (c *recordingChannel) SendText(ctx context.Context, conversationID, text string, format delivery.Format) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	if c.textErr != nil {
		return c.textErr
	}
	c.texts = append(c.texts, sentMessage{text, format})
	return nil
}

func (c *recordingChannel) SendFile(ctx context.Context, conversationID string, blob []byte, filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, "file:"+filename)
	if c.fileErr != nil {
		return c.fileErr
	}
	c.files = append(c.files, filename)
	return nil
}

func (c *recordingChannel) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.texts))
	for i, m := range c.texts {
		out[i] = m.text
	}
	return out
}

type fakeCatalog struct {
	entries []catalog.Entry
	err     error
	lookups []string
}

func (f *fakeCatalog) ListAll(ctx context.Context) ([]catalog.Entry, error) { return f.entries, f.err }

func (f *fakeCatalog) FindByName(ctx context.Context, query string) (catalog.Entry, error) {
	f.lookups = append(f.lookups, query)
	if f.err != nil {
		return catalog.Entry{}, f.err
	}
	if e, ok := catalog.Match(f.entries, query); ok {
		return e, nil
	}
	return catalog.Entry{}, catalog.ErrNotFound
}

type fakeGenerator struct {
	err   error
	panic bool
	calls int
}

func (g *fakeGenerator) Render(ctx context.Context, q pricing.Quote) ([]byte, error) {
	g.calls++
	if g.panic {
		panic("font missing")
	}
	if g.err != nil {
		return nil, g.err
	}
	return []byte("%PDF-1.3"), nil
}

type reminderCall struct {
	conversationID string
	start, end     time.Time
	total          string
}

type fakeReminder struct {
	ok    bool
	err   error
	block bool
	calls []reminderCall
}

func (f *fakeReminder) CreateReminder(ctx context.Context, q pricing.Quote, conversationID string, start, end time.Time) (bool, error) {
	f.calls = append(f.calls, reminderCall{conversationID, start, end, q.Total.StringFixed(2)})
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.ok, f.err
}

type fakeOutbox struct {
	kinds []outbox.Kind
}

func (f *fakeOutbox) Enqueue(ctx context.Context, kind outbox.Kind, conversationID string, q pricing.Quote) (string, error) {
	f.kinds = append(f.kinds, kind)
	return "job-1", nil
}

var (
	loaderX     = catalog.Entry{ModelName: "Loader X", Description: "Cargador frontal", WeeklyPrice: decimal.RequireFromString("1000.00")}
	rentalStart = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	rentalEnd   = time.Date(2025, 7, 8, 0, 0, 0, 0, time.UTC)
	quoteIntent = intent.Analysis{
		Action:       intent.ActionQuote,
		MachineName:  "Loader X",
		DurationText: "una semana",
		RentalStart:  rentalStart,
		RentalEnd:    rentalEnd,
	}
	fullQuoteRun = []State{StateStarted, StateReplied, StateMachineResolved, StatePriced, StateQuoteSent, StateDocumentAttempted, StateBookingAttempted, StateDone}
)

type fixture struct {
	channel   *recordingChannel
	catalog   *fakeCatalog
	documents *fakeGenerator
	reminders *fakeReminder
	outbox    *fakeOutbox
}

func newFixture() *fixture {
	return &fixture{
		channel:   &recordingChannel{},
		catalog:   &fakeCatalog{entries: []catalog.Entry{loaderX}},
		documents: &fakeGenerator{},
		reminders: &fakeReminder{ok: true},
		outbox:    &fakeOutbox{},
	}
}

func (f *fixture) pipeline(opts ...Option) *Pipeline {
	opts = append([]Option{WithOutbox(f.outbox), WithDocumentName("Cotizacion_Maquinaria_Pro.pdf")}, opts...)
	return New(f.catalog, f.channel, f.documents, f.reminders, opts...)
}

func TestRun_NonQuoteActionsOnlyReply(t *testing.T) {
	for _, action := range []intent.Action{intent.ActionGeneral, intent.ActionClarify, intent.ActionCatalogGap, intent.ActionError} {
		t.Run(string(action), func(t *testing.T) {
			f := newFixture()
			res := f.pipeline().Run(context.Background(), "42", intent.Analysis{Action: action, MachineName: "Loader X"}, "¡Hola!")

			require.Equal(t, []State{StateStarted, StateReplied, StateDone}, res.States)
			require.Equal(t, []string{"¡Hola!"}, f.channel.Texts())
			require.Empty(t, f.catalog.lookups)
			require.Zero(t, f.documents.calls)
			require.Empty(t, f.reminders.calls)
			require.Nil(t, res.Quote)
		})
	}
}

func TestRun_QuoteHappyPath(t *testing.T) {
	f := newFixture()
	res := f.pipeline().Run(context.Background(), "42", quoteIntent, "¡Excelente! Preparo tu cotización.")

	require.Equal(t, fullQuoteRun, res.States)
	require.Equal(t, StateDone, res.Final())
	require.True(t, res.DocumentSent)
	require.True(t, res.Booked)
	require.Empty(t, res.FailedSends)
	require.NotNil(t, res.Quote)
	require.Equal(t, "1160.00", res.Quote.Total.StringFixed(2))

	texts := f.channel.Texts()
	require.Len(t, texts, 5)
	require.Equal(t, "¡Excelente! Preparo tu cotización.", texts[0])
	require.Contains(t, texts[1], "$1000.00")
	require.Contains(t, texts[1], "$160.00")
	require.Contains(t, texts[1], "$1160.00")
	require.Contains(t, texts[1], "Loader X")
	require.Contains(t, texts[1], "una semana")
	require.Equal(t, delivery.Markdown, f.channel.texts[1].format)
	require.Equal(t, MsgDocumentProgress, texts[2])
	require.Equal(t, MsgBookingProgress, texts[3])
	require.Equal(t, MsgSummaryAll, texts[4])

	require.Equal(t, []string{"Cotizacion_Maquinaria_Pro.pdf"}, f.channel.files)
	require.Equal(t, []string{
		"¡Excelente! Preparo tu cotización.", texts[1], MsgDocumentProgress,
		"file:Cotizacion_Maquinaria_Pro.pdf", MsgBookingProgress, MsgSummaryAll,
	}, f.channel.messages, "breakdown precedes the document, document precedes booking")

	require.Equal(t, []reminderCall{{"42", rentalStart, rentalEnd, "1160.00"}}, f.reminders.calls)
	require.Empty(t, f.outbox.kinds)
}

func TestRun_DocumentFailsBookingSucceeds(t *testing.T) {
	f := newFixture()
	f.documents.err = errors.New("disk full")

	res := f.pipeline().Run(context.Background(), "42", quoteIntent, "ok")

	require.Equal(t, fullQuoteRun, res.States)
	require.False(t, res.DocumentSent)
	require.True(t, res.Booked)
	texts := f.channel.Texts()
	require.Contains(t, texts, MsgDocumentFailed)
	require.NotContains(t, texts, MsgBookingFailed)
	require.Equal(t, MsgSummaryBookingOnly, texts[len(texts)-1])
	require.Len(t, f.reminders.calls, 1, "booking runs regardless of the document")
	require.Equal(t, []outbox.Kind{outbox.KindDocument}, f.outbox.kinds)
}

func TestRun_DocumentSucceedsBookingFails(t *testing.T) {
	for name, rem := range map[string]*fakeReminder{
		"declined": {ok: false},
		"error":    {err: errors.New("calendar 500")},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.reminders = rem

			res := f.pipeline().Run(context.Background(), "42", quoteIntent, "ok")

			require.Equal(t, fullQuoteRun, res.States)
			require.True(t, res.DocumentSent)
			require.False(t, res.Booked)
			texts := f.channel.Texts()
			require.Contains(t, texts, MsgBookingFailed)
			require.NotContains(t, texts, MsgDocumentFailed)
			require.Equal(t, MsgSummaryDocumentOnly, texts[len(texts)-1])
			require.Equal(t, []outbox.Kind{outbox.KindBooking}, f.outbox.kinds)
		})
	}
}

func TestRun_BothSideEffectsFail(t *testing.T) {
	f := newFixture()
	f.documents.panic = true
	f.reminders = &fakeReminder{err: errors.New("down")}

	res := f.pipeline().Run(context.Background(), "42", quoteIntent, "ok")

	require.Equal(t, StateDone, res.Final())
	texts := f.channel.Texts()
	require.Contains(t, texts, MsgDocumentFailed)
	require.Contains(t, texts, MsgBookingFailed)
	require.Equal(t, MsgSummaryNone, texts[len(texts)-1])
	require.Equal(t, []outbox.Kind{outbox.KindDocument, outbox.KindBooking}, f.outbox.kinds)
}

func TestRun_FileSendFailureIsDocumentFailure(t *testing.T) {
	f := newFixture()
	f.channel.fileErr = errors.New("file too big")

	res := f.pipeline().Run(context.Background(), "42", quoteIntent, "ok")
	require.False(t, res.DocumentSent)
	require.True(t, res.Booked)
	require.Contains(t, f.channel.Texts(), MsgDocumentFailed)
}

func TestRun_LookupMiss(t *testing.T) {
	f := newFixture()
	a := quoteIntent
	a.MachineName = "Grúa Torre 9000"

	res := f.pipeline().Run(context.Background(), "42", a, "¡Excelente!")

	require.Equal(t, []State{StateStarted, StateReplied, StateDone}, res.States)
	require.True(t, res.LookupMiss)
	require.Equal(t, []string{"¡Excelente!", MsgLookupMiss}, f.channel.Texts())
	require.Zero(t, f.documents.calls)
	require.Empty(t, f.reminders.calls)
	require.Empty(t, f.outbox.kinds)
}

func TestRun_CatalogErrorIsLookupMiss(t *testing.T) {
	f := newFixture()
	f.catalog.err = errors.New("database is locked")

	res := f.pipeline().Run(context.Background(), "42", quoteIntent, "ok")
	require.True(t, res.LookupMiss)
	require.Equal(t, StateDone, res.Final())
	require.Contains(t, f.channel.Texts(), MsgLookupMiss)
}

func TestRun_UnpriceableMachine(t *testing.T) {
	f := newFixture()
	f.catalog.entries = []catalog.Entry{{ModelName: "Loader X", WeeklyPrice: decimal.Zero}}

	res := f.pipeline().Run(context.Background(), "42", quoteIntent, "ok")
	require.Equal(t, []State{StateStarted, StateReplied, StateMachineResolved, StateDone}, res.States)
	require.Equal(t, []string{"ok", MsgPricingFailed}, f.channel.Texts())
	require.Zero(t, f.documents.calls)
}

func TestRun_SendFailuresDoNotAbort(t *testing.T) {
	f := newFixture()
	f.channel.textErr = errors.New("telegram 429")

	res := f.pipeline().Run(context.Background(), "42", quoteIntent, "ok")

	require.Equal(t, fullQuoteRun, res.States)
	require.True(t, res.DocumentSent)
	require.True(t, res.Booked)
	require.Equal(t, []string{"reply", "quote", "document_progress", "booking_progress", "summary"}, res.FailedSends)
}

func TestRun_BookingTimeout(t *testing.T) {
	f := newFixture()
	f.reminders = &fakeReminder{block: true}

	start := time.Now()
	res := f.pipeline(WithTimeouts(config.PipelineConfig{BookingTimeout: 30 * time.Millisecond})).
		Run(context.Background(), "42", quoteIntent, "ok")

	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, StateDone, res.Final())
	require.False(t, res.Booked)
	require.Contains(t, f.channel.Texts(), MsgBookingFailed)
}

func TestRun_WithoutOutbox(t *testing.T) {
	f := newFixture()
	f.documents.err = errors.New("x")
	p := New(f.catalog, f.channel, f.documents, f.reminders)

	res := p.Run(context.Background(), "42", quoteIntent, "ok")
	require.Equal(t, StateDone, res.Final())
	require.Empty(t, f.outbox.kinds)
	require.Empty(t, f.channel.files)
}

func TestFormatBreakdown(t *testing.T) {
	q, err := pricing.NewQuote(catalog.Entry{ModelName: "Loader_X", WeeklyPrice: decimal.RequireFromString("1000")}, "", rentalStart, rentalEnd, rentalStart)
	require.NoError(t, err)

	msg := FormatBreakdown(q)
	require.Contains(t, msg, `*Máquina:* Loader\_X`)
	require.Contains(t, msg, "*Descripción:* N/A")
	require.Contains(t, msg, "*Periodo:* 2025-07-01 al 2025-07-08")
	require.Contains(t, msg, "*IVA (16%):* $160.00 MXN")
	require.Contains(t, msg, "*Total:* *$1160.00 MXN*")
}
