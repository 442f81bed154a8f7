package sources

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// parseLongFormDate handles "%B %d, %Y"-style dates (e.g. "August 31, 2026")
// used by a couple of venues' embedded widgets.
func parseLongFormDate(text string) (canonical.EventDay, error) {
	t, err := time.Parse("January 2, 2006", text)
	if err != nil {
		return canonical.EventDay{}, fmt.Errorf("sources: parse long-form date %q: %w", text, err)
	}
	return canonical.NewEventDay(t), nil
}
