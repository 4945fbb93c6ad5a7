// Package ipc carries daemon control commands over a unix socket as newline-delimited JSON.
package ipc

// Request is one client command. Text carries the payload for type and say.
type Request struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Response reports command outcome plus a compact daemon status.
type Response struct {
	OK        bool    `json:"ok"`
	State     string  `json:"state,omitempty"`
	Latched   bool    `json:"latched,omitempty"`
	Connected bool    `json:"connected,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	Lines     int     `json:"lines,omitempty"`
	Total     float64 `json:"total,omitempty"`
	Message   string  `json:"message,omitempty"`
	Error     string  `json:"error,omitempty"`
	TraceID   string  `json:"trace_id,omitempty"`
}
