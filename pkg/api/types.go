package api

// Response is the JSON body returned for every webhook delivery.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}
