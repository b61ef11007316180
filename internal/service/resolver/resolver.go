package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatty_session_server/pkg/constants"
	"chatty_session_server/pkg/errorx"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Responder 未配置 webhook 时的本地应答器
type Responder interface {
	Respond(ctx context.Context, req *Request) (string, error)
}

type Options struct {
	HTTPClient         *http.Client
	Fallback           Responder
	Apology            string        // webhook 失败时的固定回复
	Timeout            time.Duration // 未提供 HTTPClient 时生效
	BreakerMaxFailures uint32        // 连续失败多少次后熔断
	BreakerOpenTimeout time.Duration // 熔断后多久进入半开
}

// Service 回复解析，任何失败都落到固定致歉文本，不向调用方返回错误
type Service struct {
	client   *http.Client
	fallback Responder
	apology  string
	settings gobreaker.Settings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewService(opts Options) *Service {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = KeywordResponder{}
	}
	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := opts.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &Service{
		client:   client,
		fallback: fallback,
		apology:  opts.Apology,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: gobreaker.Settings{
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			// 会话被断开导致的取消不算 webhook 故障
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				zap.L().Warn("webhook breaker state changed",
					zap.String("webhook", name), zap.Stringer("from", from), zap.Stringer("to", to))
			},
		},
	}
}

// Resolve webhookURL 非空走 webhook，否则走本地应答器
func (s *Service) Resolve(ctx context.Context, webhookURL string, req *Request) string {
	if webhookURL == "" {
		reply, err := s.fallback.Respond(ctx, req)
		if err != nil || strings.TrimSpace(reply) == "" {
			zap.L().Error("pipeline error: fallback responder failed",
				zap.String("chatbot_id", req.Chatbot.ID), zap.Error(err))
			return s.apology
		}
		return reply
	}

	out, err := s.breaker(webhookURL).Execute(func() (interface{}, error) {
		return s.callWebhook(ctx, webhookURL, req)
	})
	if err != nil {
		zap.L().Error("pipeline error: webhook failed",
			zap.String("chatbot_id", req.Chatbot.ID),
			zap.String("webhook", webhookURL),
			zap.Error(err))
		return s.apology
	}
	return out.(string)
}

func (s *Service) breaker(url string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[url]
	if !ok {
		settings := s.settings
		settings.Name = url
		cb = gobreaker.NewCircuitBreaker(settings)
		s.breakers[url] = cb
	}
	return cb
}

type webhookReply struct {
	Reply string `json:"reply"`
}

func (s *Service) callWebhook(ctx context.Context, url string, req *Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errorx.Wrap(err, errorx.CodeResolverError, "marshal webhook request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errorx.Wrap(err, errorx.CodeResolverError, "build webhook request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", errorx.Wrap(err, errorx.CodeResolverError, "call webhook")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.WEBHOOK_BODY_LIMIT))
	if err != nil {
		return "", errorx.Wrap(err, errorx.CodeResolverError, "read webhook response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errorx.Newf(errorx.CodeResolverError, "webhook returned status %d", resp.StatusCode)
	}
	return parseReply(data)
}

// parseReply 接受 {"reply": "..."} 或 [{"reply": "..."}]
func parseReply(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	var reply webhookReply
	if len(data) > 0 && data[0] == '[' {
		var replies []webhookReply
		if err := json.Unmarshal(data, &replies); err != nil {
			return "", errorx.Wrap(err, errorx.CodeResolverError, "decode webhook response")
		}
		if len(replies) == 0 {
			return "", errorx.New(errorx.CodeResolverError, "webhook returned empty array")
		}
		reply = replies[0]
	} else if err := json.Unmarshal(data, &reply); err != nil {
		return "", errorx.Wrap(err, errorx.CodeResolverError, "decode webhook response")
	}

	if strings.TrimSpace(reply.Reply) == "" {
		return "", errorx.New(errorx.CodeResolverError, "webhook response has no reply")
	}
	return reply.Reply, nil
}
