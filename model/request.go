// file: model/request.go

package model

// RegisterRequest defines the payload for creating a new user.
// It includes validation tags to ensure data integrity at the entry point.
// Passwords are bounded in bytes (maxbytes) since bcrypt reads at most 72 of them.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

// LoginRequest defines the payload for user authentication.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

// RefreshRequest carries the raw refresh token issued by login or a previous refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,min=43,max=128"`
}

// LogoutRequest optionally names the device session to end. Without a token every session is ended.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,min=43,max=128"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,min=8,maxbytes=72"`
	NewPassword     string `json:"new_password" validate:"required,min=8,maxbytes=72,nefield=CurrentPassword"`
}

// UpdateUserRoleRequest defines the payload for updating a user's role.
type UpdateUserRoleRequest struct {
	Role Role `json:"role" validate:"required,oneof=admin user"`
}
