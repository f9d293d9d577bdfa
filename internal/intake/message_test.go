package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleMessage = "From: Service Cafe <intake@example.com>\r\n" +
	"To: team@example.com\r\n" +
	"Subject: TASK9001 Intake\r\n" +
	"Date: Mon, 12 Oct 2026 09:30:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=\"us-ascii\"\r\n" +
	"\r\n" +
	"Request Name: Upgrade DB<br>GBL#: G1<br>PyxIS#: PX-5<br>\r\n" +
	"\tDetails that were soft=\r\n" +
	"wrapped<br>\r\n"

func TestSplitMessage(t *testing.T) {
	subject, body := SplitMessage([]byte(sampleMessage))
	assert.Equal(t, "TASK9001 Intake", subject)
	assert.NotContains(t, body, "\r")
	assert.NotContains(t, body, "\n")
	assert.NotContains(t, body, "\t")
	assert.Contains(t, body, "Request Name: Upgrade DB<br>")
	assert.Contains(t, body, "softwrapped<br>")
}

func TestSplitMessage_EncodedSubject(t *testing.T) {
	raw := "Subject: =?utf-8?q?TASK12_Caf=C3=A9_request?=\r\n\r\nbody text\r\n"
	subject, body := SplitMessage([]byte(raw))
	assert.Equal(t, "TASK12 Café request", subject)
	assert.Equal(t, "body text", body)
}

func TestSplitMessage_Unparseable(t *testing.T) {
	raw := "not a header line\nSubject: TASK3 hi\nMIME-Version: 1.0 Request Name: A<br>"
	subject, body := SplitMessage([]byte(raw))
	assert.Equal(t, "TASK3 hi", subject)
	assert.Equal(t, " Request Name: A<br>", body)
}

func TestNormalizeBody(t *testing.T) {
	assert.Equal(t, "ab<br>cd", NormalizeBody("a=\r\nb<br>\r\n\tc=\nd"))
	assert.Equal(t, "x=3Dy", NormalizeBody("x=3Dy"))
}
