package domain

// MediaTag is the application-level label distinguishing a peer's
// concurrent streams ("cam-video", "cam-audio", "screen-video", ...).
type MediaTag string

const (
	TagCamVideo    MediaTag = "cam-video"
	TagCamAudio    MediaTag = "cam-audio"
	TagScreenVideo MediaTag = "screen-video"
	TagScreenAudio MediaTag = "screen-audio"
)
