package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"realmforge/internal/domain"
	"realmforge/internal/infra/tracer"
)

// maxResponseBody caps how much of an engine response is read.
const maxResponseBody = 10 * 1024 * 1024

// doJSONRequest POSTs body and returns the response payload. Non-200 statuses
// are mapped onto domain sentinels by mapHTTPError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrReasoningTransient, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrReasoningTransient, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return respBody, nil
}

func logChatCompleted(logger *slog.Logger, providerName string, result *domain.ChatResponse) {
	logger.Debug("llm chat completed",
		"provider", providerName,
		"model", result.Model,
		"tokens", domain.ExtractUsage(result).TotalTokens,
	)
}

func setUsageAttrs(span trace.Span, usage *domain.Usage) {
	if usage == nil {
		return
	}
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
		tracer.IntAttr("llm.total_tokens", usage.TotalTokens),
	)
}

// mapHTTPError classifies an engine HTTP failure. Rate limits and server
// errors stay retryable; credential failures are terminal.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, string(body))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrReasoningTerminal, domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrReasoningTransient, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrReasoningTerminal, detail)
	}
}
