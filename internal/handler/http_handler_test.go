package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-rt-workflow/internal/errors"
	"github.com/pesio-ai/be-rt-workflow/internal/logger"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	h := &HTTPHandler{log: logger.Nop()}

	tests := []struct {
		code errors.ErrorCode
		want int
	}{
		{errors.ErrCodeValidation, http.StatusBadRequest},
		{errors.ErrCodeUnauthorized, http.StatusForbidden},
		{errors.ErrCodeNotFound, http.StatusNotFound},
		{errors.ErrCodeConflict, http.StatusConflict},
		{errors.ErrCodeConcurrencyConflict, http.StatusConflict},
		{errors.ErrCodeIncompleteDecisions, http.StatusUnprocessableEntity},
		{errors.ErrCodeDependencyUnmet, http.StatusUnprocessableEntity},
		{errors.ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeError(rec, errors.New(tt.code, "boom"))
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), string(tt.code))
		})
	}
}

func TestWriteErrorCarriesDetails(t *testing.T) {
	h := &HTTPHandler{log: logger.Nop()}

	rec := httptest.NewRecorder()
	h.writeError(rec, errors.IncompleteDecisions([]string{"item-1", "item-2"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "item-1")
	assert.Contains(t, rec.Body.String(), "item-2")
}

func TestWriteErrorUntypedError(t *testing.T) {
	h := &HTTPHandler{log: logger.Nop()}

	rec := httptest.NewRecorder()
	h.writeError(rec, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
