package ipc

// Request is one command sent to the owner session. Text carries the
// argument of commands that take one (answer).
type Request struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
}

// Response reports the outcome of a command plus a view of the session.
type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Question  string `json:"question,omitempty"`
	Progress  string `json:"progress,omitempty"`
	Draft     string `json:"draft,omitempty"`
	Remaining *int   `json:"remaining_seconds,omitempty"`
}
