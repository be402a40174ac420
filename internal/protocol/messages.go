package protocol

// HELLO (renderer -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// MaxQueue bounds the number of binary frames buffered for this client.
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> renderer)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	Stream          StreamParams `json:"stream"`
	TuningDigest    string       `json:"tuning_digest,omitempty"`
}

// StreamParams sizes every buffer the renderer has to allocate.
type StreamParams struct {
	GridDims           [3]uint32 `json:"grid_dims"`
	CacheCapacity      int       `json:"cache_capacity"`
	ShadingElements    int       `json:"shading_elements"`
	GridQueueCapacity  int       `json:"grid_queue_capacity"`
	BrickQueueCapacity int       `json:"brick_queue_capacity"`
	FeedbackCapacity   int       `json:"feedback_capacity"`
	FrameRateHz        int       `json:"frame_rate_hz"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
