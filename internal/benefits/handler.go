package benefits

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/benefitpay/benefits/internal/balance"
	"github.com/benefitpay/benefits/internal/transfer"
)

const defaultHistoryLimit = 100

// Handler exposes benefit HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a benefit HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	FromID int64           `json:"from_id"`
	ToID   int64           `json:"to_id"`
	Amount decimal.Decimal `json:"amount"`
}

type benefitResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Active      bool   `json:"active"`
	Version     int64  `json:"version"`
}

type transferResponse struct {
	TransferID   string          `json:"transfer_id"`
	JournalIndex uint64          `json:"journal_index,omitempty"`
	From         benefitResponse `json:"from"`
	To           benefitResponse `json:"to"`
	Attempts     int             `json:"attempts"`
	CompletedAt  string          `json:"completed_at"`
}

type historyEntry struct {
	Index       uint64 `json:"index"`
	TransferID  string `json:"transfer_id"`
	FromID      int64  `json:"from_id"`
	ToID        int64  `json:"to_id"`
	Amount      string `json:"amount"`
	CommittedAt string `json:"committed_at"`
}

// Transfer moves value between two benefits.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	receipt, err := h.service.Transfer(c.UserContext(), TransferInput{FromID: req.FromID, ToID: req.ToID, Amount: req.Amount})
	if err != nil {
		return transferError(err)
	}

	return c.Status(http.StatusOK).JSON(transferResponse{
		TransferID:   receipt.TransferID.String(),
		JournalIndex: receipt.JournalIndex,
		From:         toResponse(receipt.From),
		To:           toResponse(receipt.To),
		Attempts:     receipt.Attempts,
		CompletedAt:  receipt.CompletedAt.Format(time.RFC3339Nano),
	})
}

// Get returns a single benefit.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return fiber.NewError(http.StatusBadRequest, "invalid benefit id")
	}
	b, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, balance.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(b))
}

// History lists journaled transfers after the ?after= index.
func (h *Handler) History(c *fiber.Ctx) error {
	after, err := strconv.ParseUint(c.Query("after", "0"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid after index")
	}
	limit := c.QueryInt("limit", defaultHistoryLimit)

	records, err := h.service.History(after, limit)
	if err != nil {
		if errors.Is(err, ErrHistoryDisabled) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]historyEntry, 0, len(records))
	for _, r := range records {
		out = append(out, historyEntry{
			Index:       r.Index,
			TransferID:  r.Entry.ID.String(),
			FromID:      r.Entry.FromID,
			ToID:        r.Entry.ToID,
			Amount:      r.Entry.Amount.StringFixed(balance.Scale),
			CommittedAt: r.Entry.CommittedAt.Format(time.RFC3339Nano),
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transfers": out})
}

// StatusFor maps a transfer failure to its HTTP status.
func StatusFor(err error) int {
	switch transfer.KindOf(err) {
	case transfer.KindInvalidArgument:
		return http.StatusBadRequest
	case transfer.KindNotFound:
		return http.StatusNotFound
	case transfer.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case transfer.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func transferError(err error) error {
	status := StatusFor(err)
	var te *transfer.Error
	if errors.As(err, &te) {
		return fiber.NewError(status, te.Reason)
	}
	return fiber.NewError(status, "transfer failed")
}

func toResponse(b balance.Balance) benefitResponse {
	return benefitResponse{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Amount:      b.Amount.StringFixed(balance.Scale),
		Active:      b.Active,
		Version:     b.Version,
	}
}
