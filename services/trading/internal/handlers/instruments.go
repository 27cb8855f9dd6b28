package handlers

import (
	"net/http"
	"time"

	"github.com/AfshinJalili/stocktrade/services/trading/internal/service"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type instrumentItem struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	ReferencePrice string `json:"reference_price"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

type instrumentsResponse struct {
	Instruments []instrumentItem `json:"instruments"`
}

func (h *Handler) ListInstruments(c *gin.Context) {
	list, err := h.Service.ListInstruments(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "list_instruments", err)
		return
	}
	c.JSON(http.StatusOK, instrumentsResponse{Instruments: toInstrumentItems(list)})
}

// SearchInstruments matches the symbol query parameter as a substring.
// No match is an empty list, not an error.
func (h *Handler) SearchInstruments(c *gin.Context) {
	list, err := h.Service.SearchInstruments(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		h.writeServiceError(c, "search_instruments", err)
		return
	}
	c.JSON(http.StatusOK, instrumentsResponse{Instruments: toInstrumentItems(list)})
}

func (h *Handler) GetInstrument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, service.CodeInvalidInput, "id must be a UUID")
		return
	}
	inst, err := h.Service.GetInstrument(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "get_instrument", err)
		return
	}
	c.JSON(http.StatusOK, toInstrumentItem(inst))
}

func toInstrumentItems(list []storage.Instrument) []instrumentItem {
	out := make([]instrumentItem, 0, len(list))
	for _, inst := range list {
		out = append(out, toInstrumentItem(inst))
	}
	return out
}

func toInstrumentItem(inst storage.Instrument) instrumentItem {
	item := instrumentItem{
		ID:             inst.ID.String(),
		Symbol:         inst.Symbol,
		Name:           inst.Name,
		ReferencePrice: inst.ReferencePrice.StringFixed(2),
	}
	if !inst.UpdatedAt.IsZero() {
		item.UpdatedAt = inst.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return item
}
