package notifier

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"griddca/internal/logger"
	"griddca/internal/pkg/text"
)

// Telegram 单条消息与图片说明的长度上限
const (
	maxMessageRunes = 4096
	maxCaptionRunes = 1024
)

// Telegram 运营通道：推送通知并通过 getUpdates 长轮询接收命令。
type Telegram struct {
	BotToken string
	ChatID   string

	client      *resty.Client
	pollTimeout time.Duration

	mu     sync.Mutex
	offset int64
}

func NewTelegram(apiBase, botToken, chatID string) *Telegram {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	client := resty.New().
		SetBaseURL(apiBase).
		SetTimeout(40 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})
	return &Telegram{
		BotToken:    botToken,
		ChatID:      chatID,
		client:      client,
		pollTimeout: 25 * time.Second,
	}
}

// SetPollTimeout adjusts the getUpdates long-poll window.
func (t *Telegram) SetPollTimeout(d time.Duration) {
	t.pollTimeout = d
}

func (t *Telegram) method(name string) string {
	return fmt.Sprintf("/bot%s/%s", t.BotToken, name)
}

func (t *Telegram) ready() error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram config incomplete")
	}
	return nil
}

// SendText 发送文本消息（resty 负责最多 3 次重试）
func (t *Telegram) SendText(msg string) error {
	if err := t.ready(); err != nil {
		return err
	}
	resp, err := t.client.R().
		SetBody(map[string]any{
			"chat_id":                  t.ChatID,
			"text":                     text.Truncate(msg, maxMessageRunes),
			"disable_web_page_preview": true,
		}).
		Post(t.method("sendMessage"))
	return checkResponse("sendMessage", resp, err)
}

func (t *Telegram) SendPhoto(caption string, png []byte) error {
	if err := t.ready(); err != nil {
		return err
	}
	resp, err := t.client.R().
		SetFormData(map[string]string{"chat_id": t.ChatID, "caption": text.Truncate(caption, maxCaptionRunes)}).
		SetFileReader("photo", "chart.png", bytes.NewReader(png)).
		Post(t.method("sendPhoto"))
	return checkResponse("sendPhoto", resp, err)
}

// Poll long-polls getUpdates and keeps only text messages from the configured chat.
func (t *Telegram) Poll(ctx context.Context) ([]Inbound, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":          strconv.FormatInt(offset, 10),
			"timeout":         strconv.Itoa(int(t.pollTimeout / time.Second)),
			"allowed_updates": `["message"]`,
		}).
		Get(t.method("getUpdates"))
	if err := checkResponse("getUpdates", resp, err); err != nil {
		return nil, err
	}
	msgs, next := parseUpdates(resp.Body(), t.ChatID)
	if next > offset {
		t.mu.Lock()
		t.offset = next
		t.mu.Unlock()
	}
	return msgs, nil
}

func parseUpdates(body []byte, chatID string) ([]Inbound, int64) {
	var (
		out  []Inbound
		next int64
	)
	gjson.GetBytes(body, "result").ForEach(func(_, upd gjson.Result) bool {
		id := upd.Get("update_id").Int()
		if id+1 > next {
			next = id + 1
		}
		text := strings.TrimSpace(upd.Get("message.text").String())
		chat := upd.Get("message.chat.id").String()
		if text == "" {
			return true
		}
		if chat != chatID {
			logger.Warnf("telegram: ignoring message from chat %s", chat)
			return true
		}
		out = append(out, Inbound{UpdateID: id, ChatID: chat, Text: text})
		return true
	})
	return out, next
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("telegram %s: %w", op, err)
	}
	if !resp.IsSuccess() || !gjson.GetBytes(resp.Body(), "ok").Bool() {
		desc := gjson.GetBytes(resp.Body(), "description").String()
		return fmt.Errorf("telegram %s status=%d %s", op, resp.StatusCode(), desc)
	}
	return nil
}
