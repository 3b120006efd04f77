package pipeline

// Outcome says how far a message got through the pipeline.
type Outcome int

const (
	Accepted Outcome = iota
	Replied
	Disabled
	Group
	Paused
	Empty
	TranscriptionFailed
	ChatFailed
	Undelivered
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Replied:
		return "replied"
	case Disabled:
		return "disabled"
	case Group:
		return "group"
	case Paused:
		return "paused"
	case Empty:
		return "empty"
	case TranscriptionFailed:
		return "transcription_failed"
	case ChatFailed:
		return "chat_failed"
	case Undelivered:
		return "undelivered"
	}
	return "unknown"
}
