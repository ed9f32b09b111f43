package redeem

import (
	"fmt"
	"strings"

	"guildpost/internal/types"
)

// DefaultReportLimit is the maximum report payload length in runes before
// code-block framing, chosen to stay under the chat transport's 2000-rune
// message cap with framing overhead.
const DefaultReportLimit = 1800

// FormatReport renders an aggregated batch result into bounded human-readable
// text. Pure and deterministic: a header naming the code, a success section
// listing each player, and a failure section listing each player with its
// reason. Output exceeding limit runes is truncated in place, never
// re-ordered or split into multiple messages.
func FormatReport(code string, successes []string, failures []types.PlayerFailure, limit int) string {
	if limit <= 0 {
		limit = DefaultReportLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📦 Result of redeem `%s`:\n", code)
	b.WriteString("--- Summary ---\n")
	fmt.Fprintf(&b, "Success: %d player(s)\n", len(successes))
	for _, pid := range successes {
		fmt.Fprintf(&b, " - %s -> Success\n", pid)
	}
	fmt.Fprintf(&b, "Failed: %d player(s)\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(&b, " - %s -> Failed, %s\n", f.PlayerID, f.Reason)
	}

	text := strings.TrimRight(b.String(), "\n")
	if runes := []rune(text); len(runes) > limit {
		text = string(runes[:limit])
	}
	return text
}
