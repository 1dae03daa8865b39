package slack

import (
	"net/http"
	"strconv"
	"time"

	slacklib "github.com/slack-go/slack"
)

const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"

	// MaxClockSkew is the replay window for request timestamps.
	MaxClockSkew = 5 * time.Minute
)

// Verify reports whether body was signed by Slack with signingSecret. It
// fails closed on a missing or malformed header, a timestamp outside
// MaxClockSkew of now, or a signature mismatch.
func Verify(header http.Header, body []byte, signingSecret string, now time.Time) bool {
	if signingSecret == "" {
		return false
	}

	ts, err := strconv.ParseInt(header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(MaxClockSkew/time.Second) {
		return false
	}

	sv, err := slacklib.NewSecretsVerifier(header, signingSecret)
	if err != nil {
		return false
	}
	if _, err := sv.Write(body); err != nil {
		return false
	}
	return sv.Ensure() == nil
}
