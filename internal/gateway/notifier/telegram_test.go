package notifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_SendText(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "TOKEN", "42")
	require.NoError(t, tg.SendText("hello grid"))
	assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
	assert.Contains(t, gotBody, `"chat_id":"42"`)
	assert.Contains(t, gotBody, "hello grid")
}

func TestTelegram_SendTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegram(srv.URL, "TOKEN", "42").SendText("x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegram_Poll(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":100,"message":{"chat":{"id":42},"text":"/status"}},
			{"update_id":101,"message":{"chat":{"id":7},"text":"/panic confirm"}},
			{"update_id":102,"message":{"chat":{"id":42}}}
		]}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "TOKEN", "42")
	tg.SetPollTimeout(time.Second)
	msgs, err := tg.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "/status", msgs[0].Text)
	assert.Equal(t, int64(100), msgs[0].UpdateID)

	_, err = tg.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "103"}, offsets)
}

func TestTelegram_Incomplete(t *testing.T) {
	assert.Error(t, NewTelegram("", "", "").SendText("x"))
}

func TestMessage_Render(t *testing.T) {
	sec := Section{Title: "Cycle"}
	sec.Add("PnL", "12.50")
	sec.Lines = append(sec.Lines, "   ")
	msg := Message{
		Icon:      "✅",
		Title:     "Take profit",
		Sections:  []Section{sec, {Title: "empty"}},
		Footer:    "new cycle started",
		Timestamp: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
	}
	out := msg.Render()
	assert.True(t, strings.HasPrefix(out, "✅ Take profit"))
	assert.Contains(t, out, "• PnL: 12.50")
	assert.NotContains(t, out, "empty")
	assert.Contains(t, out, "2024-03-04 10:00:00 UTC")

	long := Message{Title: strings.Repeat("网", maxRenderRunes+10)}
	rendered := long.Render()
	assert.True(t, strings.HasSuffix(rendered, "…"))
	assert.Equal(t, maxRenderRunes, utf8.RuneCountInString(rendered))
}
