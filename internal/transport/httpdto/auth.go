package httpdto

// RegisterRequest is used for POST /auth/register
type RegisterRequest struct {
	Username       string          `json:"username" binding:"required"`
	Email          string          `json:"email,omitempty"`
	Password       string          `json:"password" binding:"required"`
	DeviceToken    string          `json:"device_token" binding:"required"`
	IdentityKey    []byte          `json:"identity_key" binding:"required"`
	SignedPrekey   SignedPrekey    `json:"signed_prekey" binding:"required"`
	OneTimePrekeys []OneTimePrekey `json:"one_time_prekeys" binding:"required"`
}

// LoginRequest is used for POST /auth/login
type LoginRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DeviceToken string `json:"device_token" binding:"required"`
}

// LoginResponse is returned by register, login and verify-2fa. When a
// second factor is pending only Challenge is set.
type LoginResponse struct {
	UserID           string `json:"user_id,omitempty"`
	AccessToken      string `json:"access_token,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	AccessExpiresIn  int64  `json:"access_expires_in,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	Challenge        string `json:"challenge,omitempty"`
	DeviceTrusted    bool   `json:"device_trusted"`
}

// VerifyTwoFactorRequest is used for POST /auth/2fa/verify
type VerifyTwoFactorRequest struct {
	Challenge string `json:"challenge" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// TwoFactorCodeRequest carries just a TOTP code, used for confirm and
// disable.
type TwoFactorCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// EnableTwoFactorResponse is returned by POST /auth/2fa/enable
type EnableTwoFactorResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// RefreshRequest is used for POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	DeviceToken  string `json:"device_token" binding:"required"`
}

// RefreshResponse is returned after successful token rotation
type RefreshResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresIn  int64  `json:"access_expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// LogoutRequest is used for POST /auth/logout
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangePasswordRequest is used for POST /auth/password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// DeviceDTO represents a registered device in API responses
type DeviceDTO struct {
	Fingerprint  string `json:"fingerprint"`
	Trusted      bool   `json:"trusted"`
	RegisteredIP string `json:"registered_ip,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	RegisteredAt string `json:"registered_at"`
	LastSeenAt   string `json:"last_seen_at,omitempty"`
}
