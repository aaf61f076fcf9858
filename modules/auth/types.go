package auth

// ServiceValidateToken is the request-reply service validating access tokens.
const ServiceValidateToken = "validate-token"

// Claims is the resolved identity of a caller.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// ValidateTokenRequest represents a token validation request.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse represents a token validation response.
type ValidateTokenResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Error  string `json:"error,omitempty"`
}
