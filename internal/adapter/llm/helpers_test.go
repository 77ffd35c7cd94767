package llm

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"realmforge/internal/domain"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusRequestTimeout, domain.ErrReasoningTransient},
		{http.StatusInternalServerError, domain.ErrReasoningTransient},
		{http.StatusBadGateway, domain.ErrReasoningTransient},
		{http.StatusServiceUnavailable, domain.ErrReasoningTransient},
		{http.StatusBadRequest, domain.ErrReasoningTerminal},
		{http.StatusNotFound, domain.ErrReasoningTerminal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := mapHTTPError(tt.status, []byte(`{"error":"boom"}`))
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "boom")
		})
	}
}

func TestMapHTTPErrorAuthIsTerminal(t *testing.T) {
	err := mapHTTPError(http.StatusUnauthorized, nil)
	assert.ErrorIs(t, err, domain.ErrReasoningTerminal)
	assert.NotErrorIs(t, err, domain.ErrReasoningTransient)
}
