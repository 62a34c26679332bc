package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-tier-alerts/internal/monitor"
)

// WeComSink posts text messages to a WeCom group robot webhook.
type WeComSink struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewWeComSink constructs a WeCom webhook sink.
func NewWeComSink(webhookURL string, timeout time.Duration, logger zerolog.Logger) *WeComSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WeComSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_wecom").Logger(),
	}
}

type wecomText struct {
	Content string `json:"content"`
}

type wecomPayload struct {
	MsgType string    `json:"msgtype"`
	Text    wecomText `json:"text"`
}

type wecomResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send posts text and requires errcode 0 in the reply.
func (s *WeComSink) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(wecomPayload{MsgType: "text", Text: wecomText{Content: text}})
	if err != nil {
		return fmt.Errorf("marshal wecom payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create wecom request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send wecom request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read wecom response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: wecom status %d: %s", monitor.ErrSinkRejected, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result wecomResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("%w: decode wecom response: %v", monitor.ErrSinkRejected, err)
	}
	if result.ErrCode == nil || *result.ErrCode != 0 {
		return fmt.Errorf("%w: wecom errcode=%s errmsg=%q", monitor.ErrSinkRejected, errCodeString(result.ErrCode), result.ErrMsg)
	}

	s.logger.Debug().Int("bytes", len(text)).Msg("alert delivered (wecom)")
	return nil
}

func errCodeString(code *int) string {
	if code == nil {
		return "missing"
	}
	return fmt.Sprint(*code)
}

var _ Sink = (*WeComSink)(nil)
