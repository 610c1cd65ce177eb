package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/attachments"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/identity"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/realtime"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrReportNotFound, http.StatusNotFound},
		{fmt.Errorf("lookup: %w", services.ErrReportNotFound), http.StatusNotFound},
		{services.ErrReportClosed, http.StatusConflict},
		{services.ErrInvalidTransition, http.StatusConflict},
		{services.ErrStatusConflict, http.StatusConflict},
		{services.ErrUnauthorized, http.StatusForbidden},
		{identity.ErrMissingIdentity, http.StatusUnauthorized},
		{fmt.Errorf("%w: timeout", services.ErrAttachmentUploadFailed), http.StatusBadGateway},
		{services.ErrEmptyMessage, http.StatusBadRequest},
		{services.ErrInvalidAttachment, http.StatusBadRequest},
		{fmt.Errorf("%w: subscription not confirmed", realtime.ErrTopicUnavailable), http.StatusServiceUnavailable},
		{services.ErrInvalidReport, http.StatusBadRequest},
		{attachments.ErrEmptyFile, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestErrorHandlerHidesServerErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("secret detail") })
	app.Get("/teapot", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "short and stout") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/teapot", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
