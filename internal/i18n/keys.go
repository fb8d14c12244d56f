// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired      = "auth.required"
	KeyAuthInvalidToken  = "auth.invalid_token"
	KeyAuthTokenExpired  = "auth.token_expired"
	KeyAdminAccessDenied = "admin.access_denied"

	// Products
	KeyProductCreated     = "product.created"
	KeyProductNotFound    = "product.not_found"
	KeyProductExists      = "product.exists"
	KeyProductOutOfStock  = "product.out_of_stock"
	KeyProductUnavailable = "product.unavailable"
	KeySizeNotFound       = "product.size_not_found"

	// Checkout and payments
	KeyCheckoutCreated      = "checkout.created"
	KeyCheckoutCartTooLarge = "checkout.cart_too_large"
	KeyPaymentFailed        = "payment.failed"
	KeyWebhookInvalid       = "webhook.invalid_signature"
	KeyWebhookIgnored       = "webhook.ignored"
	KeyWebhookProcessed     = "webhook.processed"

	// Orders
	KeyOrderNotFound      = "order.not_found"
	KeyOrderStatusUpdated = "order.status_updated"
	KeyOrderArtistMissing = "order.artist_not_in_order"

	// Verification
	KeyVerificationSuccess = "verification.success"
	KeyVerificationFailed  = "verification.failed"
	KeyCertificateNotFound = "certificate.not_found"

	// Validation
	KeyValidationRequired = "validation.required"
	KeyValidationInvalid  = "validation.invalid"

	// Rate limiting
	KeyRateLimited = "rate_limit.exceeded"
)
