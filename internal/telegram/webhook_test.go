package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/quotebot/internal/delivery"
)

type sentText struct {
	chatID, text string
	format       delivery.Format
}

type fakeBot struct {
	mu          sync.Mutex
	sent        []sentText
	audio       string
	downloadErr error
}

func (b *fakeBot) SendText(ctx context.Context, chatID, text string, format delivery.Format) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentText{chatID, text, format})
	return nil
}

func (b *fakeBot) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if b.downloadErr != nil {
		return nil, b.downloadErr
	}
	return io.NopCloser(strings.NewReader(b.audio)), nil
}

// inlineDispatcher runs tasks synchronously and records their keys.
type inlineDispatcher struct {
	keys []string
	err  error
}

func (d *inlineDispatcher) Dispatch(key string, task func(ctx context.Context)) error {
	if d.err != nil {
		return d.err
	}
	d.keys = append(d.keys, key)
	task(context.Background())
	return nil
}

type turn struct{ conversationID, text string }

type fakeTurns struct{ turns []turn }

func (f *fakeTurns) HandleTurn(ctx context.Context, conversationID, text string) {
	f.turns = append(f.turns, turn{conversationID, text})
}

type fakeTranscriber struct {
	text string
	err  error
	got  string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	b, _ := io.ReadAll(audio)
	f.got = string(b)
	return f.text, f.err
}

func post(t *testing.T, h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_TextTurn(t *testing.T) {
	d, turns := &inlineDispatcher{}, &fakeTurns{}
	h := NewWebhook(&fakeBot{}, d, turns, nil, "")

	rec := post(t, h, `{"update_id":1,"message":{"message_id":5,"chat":{"id":4242},"text":"hola"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"4242"}, d.keys)
	require.Equal(t, []turn{{"4242", "hola"}}, turns.turns)
}

func TestWebhook_IgnoresCommandsAndEmpty(t *testing.T) {
	d, turns := &inlineDispatcher{}, &fakeTurns{}
	h := NewWebhook(&fakeBot{}, d, turns, nil, "")

	for _, body := range []string{
		`{"update_id":1,"message":{"chat":{"id":1},"text":"/start"}}`,
		`{"update_id":2,"message":{"chat":{"id":1},"text":"   "}}`,
		`{"update_id":3,"edited_message":{"chat":{"id":1},"text":"x"}}`,
	} {
		require.Equal(t, http.StatusOK, post(t, h, body, nil).Code)
	}
	require.Empty(t, d.keys)
	require.Empty(t, turns.turns)
}

func TestWebhook_VoiceTurn(t *testing.T) {
	bot := &fakeBot{audio: "OggS"}
	tr := &fakeTranscriber{text: "quiero el *loader_x*"}
	turns := &fakeTurns{}
	h := NewWebhook(bot, &inlineDispatcher{}, turns, tr, "")

	rec := post(t, h, `{"update_id":1,"message":{"chat":{"id":7},"voice":{"file_id":"v1","duration":3}}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, "OggS", tr.got)
	require.Equal(t, []turn{{"7", "quiero el *loader_x*"}}, turns.turns)
	require.Len(t, bot.sent, 2)
	require.Equal(t, msgTranscribing, bot.sent[0].text)
	require.Equal(t, `Texto transcrito: "quiero el *loader_x*"`, bot.sent[1].text)
	require.Equal(t, delivery.Plain, bot.sent[1].format)
}

func TestWebhook_VoiceFailures(t *testing.T) {
	cases := map[string]struct {
		bot *fakeBot
		tr  Transcriber
	}{
		"download":       {&fakeBot{downloadErr: errors.New("404")}, &fakeTranscriber{text: "x"}},
		"transcription":  {&fakeBot{}, &fakeTranscriber{err: errors.New("bad audio")}},
		"no transcriber": {&fakeBot{}, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			turns := &fakeTurns{}
			h := NewWebhook(tc.bot, &inlineDispatcher{}, turns, tc.tr, "")
			post(t, h, `{"update_id":1,"message":{"chat":{"id":7},"voice":{"file_id":"v1"}}}`, nil)

			require.Empty(t, turns.turns)
			require.NotEmpty(t, tc.bot.sent)
			require.Equal(t, msgVoiceFailed, tc.bot.sent[len(tc.bot.sent)-1].text)
		})
	}
}

func TestWebhook_RejectsBadRequests(t *testing.T) {
	h := NewWebhook(&fakeBot{}, &inlineDispatcher{}, &fakeTurns{}, nil, "s3cret")

	require.Equal(t, http.StatusUnauthorized, post(t, h, `{}`, nil).Code)
	require.Equal(t, http.StatusBadRequest, post(t, h, `not json`, map[string]string{secretHeader: "s3cret"}).Code)
	require.Equal(t, http.StatusOK, post(t, h, `{"update_id":1}`, map[string]string{secretHeader: "s3cret"}).Code)

	req := httptest.NewRequest(http.MethodGet, "/telegram/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhook_DispatcherRejectionStillAcks(t *testing.T) {
	turns := &fakeTurns{}
	h := NewWebhook(&fakeBot{}, &inlineDispatcher{err: errors.New("closed")}, turns, nil, "")
	rec := post(t, h, `{"update_id":1,"message":{"chat":{"id":1},"text":"hola"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, turns.turns)
}
