package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Attachment is a binary payload (image, audio) accompanying the primary
// text. Only a truncated digest of the bytes ever enters the cache key;
// the raw payload is never persisted.
type Attachment struct {
	Kind string // e.g. "image", "audio"
	Data []byte
}

// attachmentDigestBytes is how much of the SHA-256 digest goes into the
// key: 64 bits is plenty to separate distinct payloads without bloating
// keys.
const attachmentDigestBytes = 8

// Key builds the content-addressed cache key for a request.
//
// The key is the trimmed primary text plus, per attachment, its kind, a
// presence marker and the first 64 bits of the SHA-256 digest of its raw
// bytes. Identical text and identical attachment bytes always produce
// the same key; any byte difference in an attachment changes it.
//
// Attachments with no payload are ignored for keying purposes, so a
// request whose attachment could not be decoded keys the same as one
// without it.
func Key(primaryText string, attachments ...Attachment) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(primaryText))

	for _, a := range attachments {
		if len(a.Data) == 0 {
			continue
		}
		sum := sha256.Sum256(a.Data)
		fmt.Fprintf(&b, "|%s:present:%s", a.Kind, hex.EncodeToString(sum[:attachmentDigestBytes]))
	}
	return b.String()
}
