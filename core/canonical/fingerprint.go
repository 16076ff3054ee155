package canonical

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
)

// Fingerprint computes the 128-bit grouping hash over severity, exception
// class, and the stack portion of a traceback. The last two traceback lines
// carry the instance-specific message and are excluded so identical call
// stacks fold into one group regardless of message wording. When no
// traceback is available the message is hashed instead.
func Fingerprint(level int, className, traceback, message string) string {
	h := md5.New()
	_, _ = io.WriteString(h, strconv.Itoa(level))
	_, _ = io.WriteString(h, className)
	if traceback != "" {
		lines := strings.Split(traceback, "\n")
		if len(lines) >= 2 {
			lines = lines[:len(lines)-2]
		} else {
			lines = nil
		}
		_, _ = io.WriteString(h, strings.Join(lines, "\n"))
	} else {
		_, _ = io.WriteString(h, strings.ToValidUTF8(message, "�"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
