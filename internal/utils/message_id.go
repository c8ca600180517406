package utils

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// GenerateMessageID creates a unique RFC 5322 message id for outgoing mail.
func GenerateMessageID(domain string) string {
	id, err := gonanoid.Generate(nanoIDAlphabet, 12)
	if err != nil {
		panic(err)
	}
	localPart := fmt.Sprintf("%d.%s", time.Now().UnixMicro(), id)
	return fmt.Sprintf("<%s@%s>", localPart, domain)
}
