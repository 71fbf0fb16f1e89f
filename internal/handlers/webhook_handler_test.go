package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubProcessor struct {
	matched string
	err     error
	calls   int
	lastRaw string
}

func (s *stubProcessor) Process(ctx context.Context, rawPayload []byte) (string, error) {
	s.calls++
	s.lastRaw = string(rawPayload)
	return s.matched, s.err
}

func TestWebhookHandler_Listen(t *testing.T) {
	t.Run("rejects bad credential before processing", func(t *testing.T) {
		processor := &stubProcessor{}
		handler := NewWebhookHandler(processor, "s3cret")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/qris/listener", strings.NewReader(`{"amount":50457}`))
		req.Header.Set("X-Api-Key", "wrong")
		rec := httptest.NewRecorder()

		handler.Listen(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Zero(t, processor.calls, "nothing may be persisted for unauthenticated callers")
	})

	t.Run("rejects when no secret configured", func(t *testing.T) {
		processor := &stubProcessor{}
		handler := NewWebhookHandler(processor, "")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/qris/listener", strings.NewReader(`{}`))
		req.Header.Set("X-Api-Key", "")
		rec := httptest.NewRecorder()

		handler.Listen(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Zero(t, processor.calls)
	})

	t.Run("matched deposit", func(t *testing.T) {
		processor := &stubProcessor{matched: "PN-AB12C"}
		handler := NewWebhookHandler(processor, "s3cret")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/qris/listener", strings.NewReader(`{"amount":"50.457"}`))
		req.Header.Set("X-Api-Key", "s3cret")
		rec := httptest.NewRecorder()

		handler.Listen(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"amount":"50.457"}`, processor.lastRaw)

		var resp struct {
			Accepted         bool    `json:"accepted"`
			MatchedDepositID *string `json:"matchedDepositId"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Accepted)
		if assert.NotNil(t, resp.MatchedDepositID) {
			assert.Equal(t, "PN-AB12C", *resp.MatchedDepositID)
		}
	})

	t.Run("no match still accepted", func(t *testing.T) {
		processor := &stubProcessor{}
		handler := NewWebhookHandler(processor, "s3cret")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/qris/listener", strings.NewReader(`{"title":"noise"}`))
		req.Header.Set("X-Api-Key", "s3cret")
		rec := httptest.NewRecorder()

		handler.Listen(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Accepted         bool    `json:"accepted"`
			MatchedDepositID *string `json:"matchedDepositId"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Accepted)
		assert.Nil(t, resp.MatchedDepositID)
	})

	t.Run("storage failure is 503", func(t *testing.T) {
		processor := &stubProcessor{err: assert.AnError}
		handler := NewWebhookHandler(processor, "s3cret")

		req := httptest.NewRequest(http.MethodPost, "/api/v1/qris/listener", strings.NewReader(`{"amount":1}`))
		req.Header.Set("X-Api-Key", "s3cret")
		rec := httptest.NewRecorder()

		handler.Listen(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
