// internal/handlers/verification.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/printshop/storefront-backend/internal/i18n"
	"github.com/printshop/storefront-backend/internal/services"
	"github.com/printshop/storefront-backend/internal/utils"
)

type VerificationHandler struct {
	orderService *services.OrderService
}

func NewVerificationHandler(orderService *services.OrderService) *VerificationHandler {
	return &VerificationHandler{
		orderService: orderService,
	}
}

// GET /verify/:productId/:serial
func (h *VerificationHandler) VerifyCertificate(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	serial, err := strconv.Atoi(c.Param("serial"))
	if err != nil || serial < 1 {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "serial"), nil)
		return
	}

	cert, err := h.orderService.VerifyCertificate(c.Request.Context(), c.Param("productId"), serial)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"verified":    true,
		"message":     i18n.T(lang, i18n.KeyVerificationSuccess),
		"certificate": cert,
	})
}
