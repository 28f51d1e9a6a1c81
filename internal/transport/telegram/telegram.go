// Package telegram is the messaging transport.
//
// telebot covers bot identity, chat/member lookups and plain notifications.
// Channel posts go through raw Bot API calls instead: sendMessage with
// explicit entity arrays and multipart sendDocument need exact control over
// the wire format. Every raw call is fire-and-interpret: a non-"ok" response
// maps to a nil result, never an error that could abort the scheduler.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"happbot/internal/render"
	"happbot/pkg/logx"
)

type Config struct {
	Token          string
	RequestTimeout time.Duration
	RatePerSec     int
}

// MessageRef identifies a sent message for follow-up calls (reactions).
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ChatInfo is the platform-reported view of a channel.
type ChatInfo struct {
	ID       int64
	Username string
}

type Client struct {
	bot     *tele.Bot
	http    *http.Client
	limiter *rate.Limiter
	token   string
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	hc := &http.Client{Timeout: timeout}
	b, err := tele.NewBot(tele.Settings{Token: token, Client: hc})
	if err != nil {
		return nil, err
	}
	return &Client{
		bot:     b,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		token:   token,
		log:     log,
	}, nil
}

// BotID is the service's own account ID, used for channel admin checks.
func (c *Client) BotID() int64 { return c.bot.Me.ID }

// ChatInfo fetches the current channel info. Returns nil on any failure.
func (c *Client) ChatInfo(ctx context.Context, chatID int64) *ChatInfo {
	if ctx.Err() != nil {
		return nil
	}
	chat, err := c.bot.ChatByID(chatID)
	if err != nil || chat == nil {
		c.log.Debug("getChat failed", logx.Int64("chat", chatID), logx.Err(err))
		return nil
	}
	return &ChatInfo{ID: chat.ID, Username: chat.Username}
}

// IsAdmin reports whether accountID holds administrator or creator status in
// the chat. Any lookup failure counts as "not admin".
func (c *Client) IsAdmin(ctx context.Context, chatID, accountID int64) bool {
	if ctx.Err() != nil {
		return false
	}
	member, err := c.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: accountID})
	if err != nil || member == nil {
		c.log.Debug("getChatMember failed", logx.Int64("chat", chatID), logx.Int64("account", accountID), logx.Err(err))
		return false
	}
	return member.Role == tele.Administrator || member.Role == tele.Creator
}

// Notify sends a plain text message to an owner's private chat. Best-effort.
func (c *Client) Notify(ctx context.Context, ownerID int64, text string) {
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := c.bot.Send(&tele.User{ID: ownerID}, text); err != nil {
		c.log.Debug("owner notify failed", logx.Int64("owner", ownerID), logx.Err(err))
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type apiMessage struct {
	MessageID int `json:"message_id"`
}

func (c *Client) method(name string) string {
	return "https://api.telegram.org/bot" + c.token + "/" + name
}

// SendText posts a message with explicit style entities. Nil on failure.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, ents []render.Entity) *MessageRef {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}
	payload := map[string]any{"chat_id": chatID, "text": text}
	if len(ents) > 0 {
		payload["entities"] = ents
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendMessage"), bytes.NewReader(b))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	return c.interpretSend(ctx, req, chatID, "sendMessage")
}

// SendDocument posts the artifact as a file with a styled caption. Nil on failure.
func (c *Client) SendDocument(ctx context.Context, chatID int64, content []byte, filename, caption string, ents []render.Entity) *MessageRef {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	_ = mw.WriteField("caption", caption)
	if len(ents) > 0 {
		if eb, err := json.Marshal(ents); err == nil {
			_ = mw.WriteField("caption_entities", string(eb))
		}
	}
	fw, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return nil
	}
	if _, err := fw.Write(content); err != nil {
		return nil
	}
	if err := mw.Close(); err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendDocument"), &buf)
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.interpretSend(ctx, req, chatID, "sendDocument")
}

func (c *Client) interpretSend(ctx context.Context, req *http.Request, chatID int64, what string) *MessageRef {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn(what+" failed", logx.Int64("chat", chatID), logx.Err(err))
		return nil
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.log.Warn(what+" decode failed", logx.Int64("chat", chatID), logx.Err(err))
		return nil
	}
	if !out.OK {
		c.log.Warn(what+" rejected", logx.Int64("chat", chatID), logx.String("reason", out.Description))
		return nil
	}
	var msg apiMessage
	if err := json.Unmarshal(out.Result, &msg); err != nil || msg.MessageID == 0 {
		return nil
	}
	return &MessageRef{ChatID: chatID, MessageID: msg.MessageID}
}

// SetReaction puts an emoji reaction on a message. Best-effort; failures are
// logged and swallowed.
func (c *Client) SetReaction(ctx context.Context, ref MessageRef, emoji string) {
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	payload := map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("setMessageReaction"), bytes.NewReader(b))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("setMessageReaction failed", logx.Int64("chat", ref.ChatID), logx.Err(err))
		return
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && !out.OK {
		c.log.Debug("setMessageReaction rejected",
			logx.Int64("chat", ref.ChatID), logx.String("reason", out.Description))
	}
}

// String implements fmt.Stringer for log-friendly refs.
func (r MessageRef) String() string {
	return fmt.Sprintf("%d/%d", r.ChatID, r.MessageID)
}
