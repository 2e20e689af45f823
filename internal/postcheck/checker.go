package postcheck

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/models"
)

// Checker verifies ad placements through the public t.me embed pages:
// the post must still exist and carry the content that was agreed on.
type Checker struct {
	httpClient *http.Client
	maxRetries int
	log        *zap.Logger
}

func NewChecker(timeoutMS, maxRetries int, log *zap.Logger) *Checker {
	return &Checker{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		maxRetries: maxRetries,
		log:        log,
	}
}

// ContentHash — нормализованный хеш текста поста; по нему ловим
// редактирование после публикации.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

// FetchPostContent fetches a post's embed page. exists=false means the post
// was deleted or never published.
func (c *Checker) FetchPostContent(ctx context.Context, username string, messageID int64) (text string, exists bool, err error) {
	url := fmt.Sprintf("https://t.me/%s/%d?embed=1", username, messageID)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", false, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return "", false, nil
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		text := strings.TrimSpace(doc.Find(".tgme_widget_message_text").Text())
		if text == "" && doc.Find(".tgme_widget_message").Length() == 0 {
			return "", false, nil // deleted
		}
		return text, true, nil
	}
	return "", false, lastErr
}

// VerifyDelivery implements the settlement check: the post still stands and
// its content hash matches what was recorded at publication.
func (c *Checker) VerifyDelivery(ctx context.Context, deal *models.Deal, post *models.DealPost) (bool, error) {
	if post.TelegramMessageID == nil {
		return false, nil
	}

	text, exists, err := c.FetchPostContent(ctx, deal.ChannelUsername, *post.TelegramMessageID)
	if err != nil {
		return false, fmt.Errorf("fetch post %s/%d: %w", deal.ChannelUsername, *post.TelegramMessageID, err)
	}
	if !exists {
		c.log.Info("post deleted before hold expiry",
			zap.String("deal_id", deal.ID.String()),
			zap.String("channel", deal.ChannelUsername))
		return false, nil
	}

	if post.ContentHash != nil && *post.ContentHash != "" {
		if ContentHash(text) != *post.ContentHash {
			c.log.Info("post content changed during hold",
				zap.String("deal_id", deal.ID.String()))
			return false, nil
		}
	}
	return true, nil
}
