package domain

// UserRegisteredEvent arrives on auth.user.registered once the auth service creates an account.
type UserRegisteredEvent struct {
	MessageID string `json:"messageId" validate:"required"`
	IDCitizen int64  `json:"idCitizen" validate:"required,gt=0"`
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Timestamp string `json:"timestamp" validate:"required"`
}

type DocumentAuthenticationRequestedEvent struct {
	MessageID     string `json:"messageId" validate:"required"`
	DocumentID    string `json:"documentId" validate:"required"`
	IDCitizen     int64  `json:"idCitizen" validate:"required,gt=0"`
	URLDocument   string `json:"urlDocument" validate:"required"`
	DocumentTitle string `json:"documentTitle" validate:"required"`
}
