package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DeepL's status for an exhausted character budget.
const statusQuotaExceeded = 456

const maxAttempts = 5

// DeepLClient talks to the DeepL v2 translate endpoint. Connection errors
// and 5xx answers are retried with exponential back-off; quota and client
// errors are not.
type DeepLClient struct {
	baseURL string
	authKey string
	client  *http.Client
	backoff time.Duration
}

func NewDeepLClient(baseURL, authKey string) *DeepLClient {
	return &DeepLClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		authKey: authKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		backoff: time.Second,
	}
}

func (c *DeepLClient) Name() string {
	return "DeepL"
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

func (c *DeepLClient) Translate(ctx context.Context, sourceLang, targetLang, text string) (string, error) {
	form := url.Values{}
	form.Set("text", text)
	form.Set("source_lang", strings.ToUpper(sourceLang))
	form.Set("target_lang", strings.ToUpper(targetLang))
	form.Set("tag_handling", "xml")

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.backoff << (attempt - 1)):
			}
		}
		translated, retryable, err := c.post(ctx, form)
		if err == nil {
			return translated, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("translate after %d attempts: %w", maxAttempts, lastErr)
}

func (c *DeepLClient) post(ctx context.Context, form url.Values) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.authKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read provider response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == statusQuotaExceeded:
		return "", false, ErrQuotaExceeded
	case resp.StatusCode >= 500:
		return "", true, &UnexpectedResponseError{StatusCode: resp.StatusCode, Body: string(body)}
	default:
		return "", false, &UnexpectedResponseError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed deeplResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("decode provider response: %w", err)
	}
	if len(parsed.Translations) == 0 {
		return "", false, &UnexpectedResponseError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return parsed.Translations[0].Text, false, nil
}
