package intake

import (
	"bytes"
	"io"
	"mime"
	"net/mail"
	"strings"
)

const mimeMarker = "MIME-Version: 1.0"

var (
	softBreaks = strings.NewReplacer("=\r\n", "", "=\n", "")
	foldChars  = strings.NewReplacer("\r", "", "\n", "", "\t", "")
	wordDec    = new(mime.WordDecoder)
)

// NormalizeBody strips quoted-printable soft breaks, carriage returns,
// newlines and tabs. Markup is left as is.
func NormalizeBody(raw string) string {
	return foldChars.Replace(softBreaks.Replace(raw))
}

// SplitMessage returns the decoded subject and normalized body of a raw
// RFC 5322 message. The body is everything after the MIME-Version marker,
// or the message body when there is none.
func SplitMessage(raw []byte) (subject, body string) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err == nil {
		subject = decodeHeader(msg.Header.Get("Subject"))
	} else {
		subject = scanSubject(string(raw))
	}

	text := string(raw)
	if i := strings.Index(text, mimeMarker); i >= 0 {
		return subject, NormalizeBody(text[i+len(mimeMarker):])
	}
	if err == nil {
		b, _ := io.ReadAll(msg.Body)
		return subject, NormalizeBody(string(b))
	}
	return subject, NormalizeBody(text)
}

func decodeHeader(v string) string {
	if d, err := wordDec.DecodeHeader(v); err == nil {
		v = d
	}
	return strings.TrimSpace(v)
}

// scanSubject is the fallback for messages net/mail refuses to parse.
func scanSubject(text string) string {
	i := strings.Index(text, "Subject: ")
	if i < 0 {
		return ""
	}
	rest := text[i+len("Subject: "):]
	if j := strings.IndexAny(rest, "\r\n"); j >= 0 {
		rest = rest[:j]
	}
	return decodeHeader(rest)
}
