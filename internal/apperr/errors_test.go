package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("accept bid: %w", Conflict("trip is no longer pending"))

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.True(t, errors.Is(wrapped, Conflict("")))
	assert.False(t, errors.Is(wrapped, NotFound("")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindInvalidInput))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindUnauthorized))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindForbidden))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindInvalidTransition))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindUpstreamFailure))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}

func TestToBodyHidesDetailOutsideDevelopment(t *testing.T) {
	err := UpstreamFailure("payment gateway unavailable", errors.New("dial tcp: timeout"))

	prod := ToBody(err, false)
	assert.Equal(t, Body{Kind: KindUpstreamFailure, Message: "payment gateway unavailable"}, prod)

	dev := ToBody(err, true)
	assert.Equal(t, "dial tcp: timeout", dev.Detail)

	internal := ToBody(errors.New("pq: connection refused"), false)
	assert.Equal(t, KindInternal, internal.Kind)
	assert.Equal(t, "internal server error", internal.Message)
	assert.Empty(t, internal.Detail)
}
