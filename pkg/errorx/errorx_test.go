package errorx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(cause, CodeDBError, "update session %s", "s-1")

	assert.Equal(t, "update session s-1: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDBError, GetCode(fmt.Errorf("outer: %w", err)))
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(errors.New("no handle"), CodeSessionNotLive, "send failed")
	assert.ErrorIs(t, err, ErrSessionNotLive)
	assert.NotErrorIs(t, err, ErrInvalidParam)
}

func TestGetCodeDefaultsToServerBusy(t *testing.T) {
	assert.Equal(t, CodeServerBusy, GetCode(errors.New("plain")))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(New(CodeNotFound, "missing")))
	assert.False(t, IsNotFound(New(CodeDBError, "db")))
	assert.False(t, IsNotFound(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeInvalidParam))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeSessionNotLive))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(CodeSendFailed))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeDBError))
}
