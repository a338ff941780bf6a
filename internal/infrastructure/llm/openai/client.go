// Package openai is a client for OpenAI-compatible chat completion services.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
	"github.com/kirillkom/literature-assistant/internal/core/ports"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/resilience"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 120 * time.Second
)

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers and, while
	// streaming, the silence between two received lines.
	ReadTimeout time.Duration
}

type Client struct {
	baseURL     string
	apiKey      string
	model       string
	readTimeout time.Duration
	httpClient  *http.Client
	breaker     *resilience.Breaker
}

func New(cfg Config, breaker *resilience.Breaker) *Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = readTimeout

	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       strings.TrimSpace(cfg.Model),
		readTimeout: readTimeout,
		httpClient:  &http.Client{Transport: transport},
		breaker:     breaker,
	}
}

// Complete performs a blocking chat completion.
func (c *Client) Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatCompletion, error) {
	const operation = "complete"
	if err := validateRequest(operation, req); err != nil {
		return domain.ChatCompletion{}, err
	}

	var completion domain.ChatCompletion
	err := c.breaker.Execute(ctx, "llm_"+operation, func(ctx context.Context) error {
		resp, err := c.send(ctx, operation, c.buildPayload(req, false))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		completion, err = decodeCompletion(operation, resp)
		return err
	}, recordsFailure)
	if err != nil {
		return domain.ChatCompletion{}, asModelError(operation, err)
	}
	return completion, nil
}

// Stream opens a server-sent events completion. The returned stream must be
// closed by the caller.
func (c *Client) Stream(ctx context.Context, req domain.ChatRequest) (ports.ChatStream, error) {
	const operation = "stream"
	if err := validateRequest(operation, req); err != nil {
		return nil, err
	}

	var stream *sseStream
	err := c.breaker.Execute(ctx, "llm_"+operation, func(ctx context.Context) error {
		resp, err := c.send(ctx, operation, c.buildPayload(req, true))
		if err != nil {
			return err
		}
		stream = newSSEStream(resp.Body, c.readTimeout)
		return nil
	}, recordsFailure)
	if err != nil {
		return nil, asModelError(operation, err)
	}
	return stream, nil
}

func validateRequest(operation string, req domain.ChatRequest) error {
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "llm "+operation, errors.New("system prompt is empty"))
	}
	if strings.TrimSpace(req.UserPrompt) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "llm "+operation, errors.New("user prompt is empty"))
	}
	return nil
}

func decodeCompletion(operation string, resp *http.Response) (domain.ChatCompletion, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ChatCompletion{}, &domain.ModelError{Operation: operation, Kind: domain.ErrTransport, Err: err}
	}
	if strings.TrimSpace(string(body)) == "" {
		return domain.ChatCompletion{}, &domain.ModelError{Operation: operation, Kind: domain.ErrEmptyResponse, StatusCode: resp.StatusCode}
	}

	var payload chatCompletionResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.ChatCompletion{}, &domain.ModelError{
			Operation:  operation,
			Kind:       domain.ErrServiceRejected,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
			Err:        err,
		}
	}
	if len(payload.Choices) == 0 {
		return domain.ChatCompletion{}, &domain.ModelError{Operation: operation, Kind: domain.ErrEmptyResponse, StatusCode: resp.StatusCode}
	}

	out := domain.ChatCompletion{
		ID:      payload.ID,
		Model:   payload.Model,
		Choices: make([]domain.ChatChoice, 0, len(payload.Choices)),
		Usage:   payload.Usage,
	}
	for _, choice := range payload.Choices {
		out.Choices = append(out.Choices, domain.ChatChoice{
			Index:        choice.Index,
			Content:      choice.Message.Content,
			FinishReason: choice.FinishReason,
		})
	}
	return out, nil
}
