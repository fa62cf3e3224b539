package model

// Credential is the access/refresh token pair issued at login.
type Credential struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// StudentProfile is the identity returned by the backend at login.
type StudentProfile struct {
	ID    ID     `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// LoginRequest is the payload for student authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Access  string         `json:"access" binding:"required"`
	Refresh string         `json:"refresh"`
	Student StudentProfile `json:"student"`
}
