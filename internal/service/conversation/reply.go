package conversation

import (
	"strings"

	"github.com/vultisig/voice-chat/internal/types"
)

// Canned assistant replies.
const (
	GreetingReply = "Hello there! How can I help you today?"
	HelpReply     = "Sure, I can try to help. What do you need assistance with?"
	DefaultReply  = "I've received your message."
	AudioAckReply = "I've received your audio message."

	// FailedTranscriptionText replaces the transcription of an audio message that could not be transcribed.
	FailedTranscriptionText = "Sorry, this audio message could not be transcribed."
)

// SelectReply picks the canned reply for a user text by case-insensitive keyword match.
// Greetings win over help requests.
func SelectReply(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "hello"), strings.Contains(lower, "ciao"):
		return GreetingReply
	case strings.Contains(lower, "help"):
		return HelpReply
	default:
		return DefaultReply
	}
}

var notices = map[types.NoticeKind]types.Notice{
	types.NoticeOfflineMessage: {
		Kind:        types.NoticeOfflineMessage,
		Title:       "Offline",
		Description: "Cannot send messages while offline.",
		Destructive: true,
	},
	types.NoticeOfflineAudio: {
		Kind:        types.NoticeOfflineAudio,
		Title:       "Offline",
		Description: "Cannot send audio while offline.",
		Destructive: true,
	},
	types.NoticeOfflineCall: {
		Kind:        types.NoticeOfflineCall,
		Title:       "Offline",
		Description: "Cannot start calls while offline.",
		Destructive: true,
	},
	types.NoticeTranscriptionFailed: {
		Kind:        types.NoticeTranscriptionFailed,
		Title:       "Transcription Failed",
		Description: "Could not transcribe the audio message.",
		Destructive: true,
	},
}

func noticeFor(kind types.NoticeKind) types.Notice {
	return notices[kind]
}
