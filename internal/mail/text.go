package mail

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

// ReminderTag marks subjects of reminders sent by the tracker; replies keep it.
const ReminderTag = "[SLA]"

var (
	replyPrefix = regexp.MustCompile(`(?i)^((re|fw|fwd|ответ|отв|пересл)\s*:\s*)+`)
	separator   = regexp.MustCompile(`^[-_]{5,}\s*$`)
)

var replyMarkers = []string{
	"from:",
	"to:",
	"subject:",
	"sent:",
	"от:",
	"кому:",
	"тема:",
	"отправлено:",
	"ответ от",
	"reply-to:",
	"----original message----",
}

var signatureMarkers = []string{
	"--",
	"__",
	"best regards",
	"kind regards",
	"regards",
	"cheers",
	"thanks",
	"thank you",
	"с уважением",
	"спасибо",
	"с наилучшими пожеланиями",
	"отправлено из",
}

// NormalizeSubject strips any run of reply and forward prefixes.
func NormalizeSubject(subject string) string {
	return strings.TrimSpace(replyPrefix.ReplaceAllString(strings.TrimSpace(subject), ""))
}

// IsReminderReply reports whether subject belongs to a tracker reminder thread.
func IsReminderReply(subject string) bool {
	return strings.Contains(strings.ToUpper(subject), ReminderTag)
}

// CleanBody drops quoted lines and reply headers, and stops at the first
// signature or separator line.
func CleanBody(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var cleaned []string
lines:
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		low := strings.ToLower(stripped)
		if strings.HasPrefix(stripped, ">") {
			continue
		}
		for _, marker := range replyMarkers {
			if strings.HasPrefix(low, marker) {
				continue lines
			}
		}
		if separator.MatchString(stripped) {
			break
		}
		for _, marker := range signatureMarkers {
			if strings.HasPrefix(low, marker) {
				break lines
			}
		}
		cleaned = append(cleaned, stripped)
	}

	for len(cleaned) > 0 && cleaned[0] == "" {
		cleaned = cleaned[1:]
	}
	for len(cleaned) > 0 && cleaned[len(cleaned)-1] == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}
	return strings.Join(cleaned, "\n")
}

// BodyHash is the hex BLAKE3-256 digest of a cleaned body.
func BodyHash(cleaned string) string {
	sum := blake3.Sum256([]byte(cleaned))
	return hex.EncodeToString(sum[:])
}

// ThreadKey is the conversation id when known, else sender and normalized
// subject, lower-cased.
func ThreadKey(conversationID, sender, normalizedSubject string) string {
	if id := strings.TrimSpace(conversationID); id != "" {
		return strings.ToLower(id)
	}
	return strings.ToLower(strings.TrimSpace(sender) + "|" + normalizedSubject)
}
