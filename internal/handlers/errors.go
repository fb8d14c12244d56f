// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/i18n"
	"github.com/printshop/storefront-backend/internal/services"
	"github.com/printshop/storefront-backend/internal/utils"
)

// respondError maps service errors onto the API envelope.
func respondError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)

	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		utils.ValidationErrorResponse(c, utils.GetValidationErrors(validationErrs))
	case errors.Is(err, services.ErrProductNotFound):
		utils.NotFoundResponse(c, "product")
	case errors.Is(err, services.ErrOrderNotFound):
		utils.NotFoundResponse(c, "order")
	case errors.Is(err, services.ErrCertificateNotFound):
		utils.NotFoundResponse(c, "certificate")
	case errors.Is(err, services.ErrSizeNotFound):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeySizeNotFound), nil)
	case errors.Is(err, services.ErrInsufficientStock):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyProductOutOfStock))
	case errors.Is(err, services.ErrProductUnavailable):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyProductUnavailable))
	case errors.Is(err, services.ErrProductExists):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyProductExists))
	case errors.Is(err, services.ErrDuplicateSize):
		utils.BadRequestResponse(c, err.Error(), nil)
	case errors.Is(err, services.ErrArtistNotInOrder):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyOrderArtistMissing), nil)
	case errors.Is(err, services.ErrCartTooLarge):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyCheckoutCartTooLarge), nil)
	default:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		utils.InternalErrorResponse(c, "")
	}
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	if errors.Is(err, services.ErrInvalidEvent) || errors.Is(err, services.ErrAuthenticity) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
