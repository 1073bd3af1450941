package benefits

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benefitpay/benefits/internal/balance"
	"github.com/benefitpay/benefits/internal/logging"
	"github.com/benefitpay/benefits/internal/transfer"
)

func setupHandlerApp(t *testing.T) (*fiber.App, *balance.MemoryStore) {
	t.Helper()
	inactive := balance.Active(3, "50.00")
	inactive.Active = false
	store := balance.SeedMemory(time.Second, balance.Active(1, "1000.00"), balance.Active(2, "500.00"), inactive)

	svc := NewService(store, newJournal(t), nil, logging.Discard(), fastRetries(0))
	h := NewHandler(svc)

	app := fiber.New()
	app.Post("/transfers", h.Transfer)
	app.Get("/transfers", h.History)
	app.Get("/benefits/:id", h.Get)
	return app, store
}

func postTransfer(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/transfers", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestHandlerTransfer(t *testing.T) {
	app, _ := setupHandlerApp(t)

	resp := postTransfer(t, app, `{"from_id":1,"to_id":2,"amount":"100.00"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out transferResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, "900.00", out.From.Amount)
	assert.Equal(t, "600.00", out.To.Amount)
	assert.NotEmpty(t, out.TransferID)

	req := httptest.NewRequest(fiber.MethodGet, "/benefits/2", nil)
	getResp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var b benefitResponse
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&b))
	getResp.Body.Close()
	assert.Equal(t, "600.00", b.Amount)
	assert.Equal(t, int64(1), b.Version)

	histResp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/transfers?after=0", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, histResp.StatusCode)
	var hist struct {
		Transfers []historyEntry `json:"transfers"`
	}
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&hist))
	histResp.Body.Close()
	require.Len(t, hist.Transfers, 1)
	assert.Equal(t, out.TransferID, hist.Transfers[0].TransferID)
}

func TestHandlerTransferStatuses(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{"malformed", `{"from_id":`, http.StatusBadRequest, ""},
		{"same endpoint", `{"from_id":1,"to_id":1,"amount":"1"}`, http.StatusBadRequest, transfer.ReasonSameEndpoint},
		{"missing amount", `{"from_id":1,"to_id":2}`, http.StatusBadRequest, transfer.ReasonNonPositiveAmount},
		{"unknown destination", `{"from_id":1,"to_id":77,"amount":"1"}`, http.StatusNotFound, transfer.ReasonDestNotFound},
		{"insufficient", `{"from_id":2,"to_id":1,"amount":"500.01"}`, http.StatusUnprocessableEntity, transfer.ReasonInsufficientFunds},
		{"cancelled", `{"from_id":3,"to_id":1,"amount":"1"}`, http.StatusUnprocessableEntity, transfer.ReasonSourceCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, _ := setupHandlerApp(t)
			resp := postTransfer(t, app, tc.body)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.reason != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tc.reason, string(body))
			}
		})
	}
}

func TestHandlerGetUnknownBenefit(t *testing.T) {
	app, _ := setupHandlerApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/benefits/404", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/benefits/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(&transfer.Error{Kind: transfer.KindConflict}))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
