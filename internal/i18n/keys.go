// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthTokenExpired       = "auth.token_expired"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthUserExists         = "auth.user_exists"
	KeyAuthLoginSuccess       = "auth.login_success"
	KeyAuthRegisterSuccess    = "auth.register_success"

	// Purchase requests
	KeyRequestCreated      = "request.created"
	KeyRequestCancelled    = "request.cancelled"
	KeyRequestNotFound     = "request.not_found"
	KeyRequestStatusPrefix = "request.status."

	// Consignment sales
	KeySaleCreated  = "sale.created"
	KeySaleNotFound = "sale.not_found"
	KeyItemNotFound = "item.not_found"

	// Payments and subscriptions
	KeyPaymentSuccess          = "payment.success"
	KeyPaymentFailed           = "payment.failed"
	KeySubscriptionCheckout    = "subscription.checkout_created"
	KeySubscriptionNotFound    = "subscription.not_found"
	KeyWebhookInvalidSignature = "webhook.invalid_signature"

	// Admin
	KeyAdminActionSuccess   = "admin.action_success"
	KeyAdminAccessDenied    = "admin.access_denied"
	KeyAdminSettingsUpdated = "admin.settings_updated"

	// Generic resources
	KeyUserNotFound    = "user.not_found"
	KeySettingNotFound = "setting.not_found"

	// Validation
	KeyValidationRequired     = "validation.required"
	KeyValidationInvalid      = "validation.invalid"
	KeyValidationInvalidState = "validation.invalid_state"

	// Rate limiting
	KeyRateLimited = "rate_limit.exceeded"
)
