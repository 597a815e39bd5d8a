package matchdto

// Envelope wraps every JSON response.
type Envelope struct {
	Error   bool         `json:"error"`
	Data    any          `json:"data"`
	Message string       `json:"message"`
	Detail  *DomainError `json:"detail,omitempty"`
}
