// Package fileid derives deterministic mail IDs for spooled files so that
// re-ingesting the same file or message updates the same record.
package fileid

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	pathSpace    = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailinsights:spool-path"))
	messageSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailinsights:message-id"))
)

// PathID returns a stable mail ID for the given absolute path.
func PathID(absolutePath string) string {
	return uuid.NewSHA1(pathSpace, []byte(filepath.Clean(absolutePath))).String()
}

// MessageID returns a stable mail ID for an RFC 5322 Message-ID. Angle
// brackets and surrounding space are ignored.
func MessageID(messageID string) string {
	id := strings.TrimSpace(messageID)
	id = strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
	return uuid.NewSHA1(messageSpace, []byte(id)).String()
}

// MailID prefers the message id, so the same message saved to two files is
// one mail. Without one it falls back to the path.
func MailID(absolutePath, messageID string) string {
	if strings.TrimSpace(messageID) != "" {
		return MessageID(messageID)
	}
	return PathID(absolutePath)
}
