package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Assistant interface {
	Ask(ctx context.Context, prompt string, history []ChatMessage) (string, error)
}

// RateLimitError is returned on HTTP 429. RetryAfter is zero when the
// server gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}

const defaultAskTimeout = 45 * time.Second

// OpenAICompatAssistant talks to any /chat/completions endpoint. Answers are
// kept for a minute per model, history and prompt.
type OpenAICompatAssistant struct {
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []ChatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

func (a OpenAICompatAssistant) Ask(ctx context.Context, prompt string, history []ChatMessage) (string, error) {
	switch {
	case strings.TrimSpace(a.BaseURL) == "":
		return "", errors.New("ASSISTANT_BASE_URL is not set")
	case strings.TrimSpace(a.Model) == "":
		return "", errors.New("ASSISTANT_MODEL is not set")
	}

	msgs := make([]ChatMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, ChatMessage{Role: "user", Content: prompt})

	key := answerKey(a.Model, msgs)
	if v, ok := answers.get(key); ok {
		return v, nil
	}

	body, err := json.Marshal(chatRequest{Model: a.Model, MaxTokens: a.MaxTokens, Messages: msgs})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(a.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(a.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := (&http.Client{Timeout: askTimeout(ctx)}).Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", statusError(resp)
	}

	var res chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode assistant response: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", errors.New("empty assistant response")
	}
	answer := res.Choices[0].Message.Content
	answers.put(key, answer)
	return answer, nil
}

// askTimeout shrinks the client timeout to the context deadline.
func askTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return defaultAskTimeout
	}
	if left := time.Until(deadline); left > 0 && left < defaultAskTimeout {
		return left
	}
	return defaultAskTimeout
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.New("assistant request timed out")
	}
	return fmt.Errorf("assistant request failed: %w", err)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("assistant http error: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	wait := retryAfterHeader(resp.Header.Get("Retry-After"))
	if wait == 0 {
		wait = retryInfoDelay(raw)
	}
	return RateLimitError{RetryAfter: wait}
}

func retryAfterHeader(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// retryInfoDelay reads the google.rpc.RetryInfo detail some gateways put in
// the error body.
func retryInfoDelay(raw []byte) time.Duration {
	var body struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return 0
	}
	for _, d := range body.Error.Details {
		if !strings.Contains(d.Type, "RetryInfo") {
			continue
		}
		if wait, err := time.ParseDuration(d.RetryDelay); err == nil {
			return wait
		}
	}
	return 0
}

// answerCache holds recent answers for a fixed TTL. Expired entries are
// dropped on read.
type answerCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint64]cachedAnswer
}

type cachedAnswer struct {
	value   string
	expires time.Time
}

var answers = &answerCache{ttl: time.Minute, entries: map[uint64]cachedAnswer{}}

func (c *answerCache) get(key uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *answerCache) put(key uint64, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedAnswer{value: value, expires: time.Now().Add(c.ttl)}
}

func answerKey(model string, msgs []ChatMessage) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(model)
	for _, m := range msgs {
		_, _ = d.WriteString("\x00" + m.Role + "\x01" + m.Content)
	}
	return d.Sum64()
}
