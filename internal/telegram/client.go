// Package telegram delivers drain alerts via the Telegram Bot API.
// It formats detected drain intervals into human-readable MarkdownV2
// messages and retries delivery on transient failures.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/witchbrew/cauldronwatch/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendDrainAlerts sends a notification listing the detected drains.
func (c *Client) SendDrainAlerts(alerts []models.DrainAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return c.send(formatAlerts(alerts))
}

// SendError notifies that a poll cycle failed.
func (c *Client) SendError(err error) error {
	msg := fmt.Sprintf("⚠️ *CauldronWatch cycle failed*\n\n%s", escapeMarkdownV2(err.Error()))
	return c.send(msg)
}

// SendRecovery notifies that polling recovered after consecutive failures.
func (c *Client) SendRecovery(failures int) error {
	msg := fmt.Sprintf("✅ *CauldronWatch recovered* after %d failed cycle", failures)
	if failures != 1 {
		msg += "s"
	}
	return c.send(msg)
}

func (c *Client) send(message string) error {
	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatAlerts formats drain alerts into a Telegram message
func formatAlerts(alerts []models.DrainAlert) string {
	var b strings.Builder
	b.WriteString("🧪 *Cauldron drains detected*\n\n")

	dateStr := escapeMarkdownV2(alerts[0].DetectedAt.Format("2006-01-02 15:04:05"))
	b.WriteString(fmt.Sprintf("📅 Detected: %s\n\n", dateStr))

	for i, alert := range alerts {
		span := escapeMarkdownV2(fmt.Sprintf("%s → %s",
			alert.Interval.StartTime.Format("Jan 2 15:04"),
			alert.Interval.EndTime.Format("Jan 2 15:04")))
		levels := escapeMarkdownV2(fmt.Sprintf("%.1f L → %.1f L", alert.Interval.StartLevel, alert.Interval.EndLevel))
		drop := escapeMarkdownV2(fmt.Sprintf("%.1f L over %s", alert.TotalDrop, formatDuration(alert.Interval.Duration())))

		b.WriteString(fmt.Sprintf("%d\\. *%s*\n", i+1, escapeMarkdownV2(alert.CauldronID)))
		b.WriteString(fmt.Sprintf("   🕑 %s\n", span))
		b.WriteString(fmt.Sprintf("   📉 %s \\(drop %s\\)\n\n", levels, drop))
	}

	return b.String()
}

// escapeMarkdownV2 escapes the characters Telegram's MarkdownV2 mode reserves.
func escapeMarkdownV2(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
		"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
		"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
	)
	return replacer.Replace(s)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) - h*60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}
