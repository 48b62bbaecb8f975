package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yetasya/derivatives-bot/internal/catalog"
)

// InstrumentSource is the read side of the instrument catalog
type InstrumentSource interface {
	Instruments() []catalog.Instrument
	Lookup(code string) (catalog.Instrument, bool)
	Source() catalog.Source
	RefreshedAt() time.Time
}

type InstrumentsHandler struct {
	catalog InstrumentSource
	logger  *zap.Logger
}

func NewInstrumentsHandler(source InstrumentSource, logger *zap.Logger) *InstrumentsHandler {
	return &InstrumentsHandler{
		catalog: source,
		logger:  logger,
	}
}

// ListInstruments returns the catalog, optionally filtered by market
// GET /api/v1/instruments?market=synthetic_index&open=true
func (h *InstrumentsHandler) ListInstruments(c *gin.Context) {
	market := strings.ToLower(c.Query("market"))
	openOnly := c.Query("open") == "true"

	instruments := h.catalog.Instruments()
	filtered := instruments[:0]
	for _, inst := range instruments {
		if market != "" && strings.ToLower(inst.Market) != market {
			continue
		}
		if openOnly && (!inst.ExchangeIsOpen || inst.IsTradingSuspended) {
			continue
		}
		filtered = append(filtered, inst)
	}

	c.JSON(http.StatusOK, gin.H{
		"source":       h.catalog.Source(),
		"refreshed_at": h.catalog.RefreshedAt(),
		"count":        len(filtered),
		"instruments":  filtered,
	})
}

// GetInstrument returns one instrument by code
// GET /api/v1/instruments/:code
func (h *InstrumentsHandler) GetInstrument(c *gin.Context) {
	code := c.Param("code")

	inst, ok := h.catalog.Lookup(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instrument", "code": code})
		return
	}
	c.JSON(http.StatusOK, inst)
}
