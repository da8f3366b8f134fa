package broker

import (
	"fmt"
	"regexp"
	"time"
)

// commentRegex matches the tracking prefix stamped on every broker-submitted
// order comment.
var commentRegex = regexp.MustCompile(`^(\d+)-\[ACC:\d+(?:/EXP:\d+)?/TR:\w+/ORD:\w+\]\s?(.*)$`)

// maxCommentLength is the hard cap enforced on every broker-submitted
// comment.
const maxCommentLength = 128

// stampComment prepends the tracking prefix
// "<microsecond-epoch>-[ACC:n/EXP:n/TR:n/ORD:n] " to userComment and
// truncates the result to maxCommentLength runes. txID/orderID may be "new"
// when the order/transaction row has not been assigned an ID yet; callers
// stamp once with "new" before the order row is persisted and re-stamp once
// both IDs are known.
func stampComment(accountID, expertID int64, txID, orderID string, userComment string) string {
	var prefix string
	if expertID != 0 {
		prefix = fmt.Sprintf("%d-[ACC:%d/EXP:%d/TR:%s/ORD:%s] ", time.Now().UnixMicro(), accountID, expertID, txID, orderID)
	} else {
		prefix = fmt.Sprintf("%d-[ACC:%d/TR:%s/ORD:%s] ", time.Now().UnixMicro(), accountID, txID, orderID)
	}

	comment := prefix + userComment
	comment = truncateRunes(comment, maxCommentLength)

	// Truncation must never produce a comment that fails the regex (an
	// unbalanced "[ACC:..." bracket). If it did, fall back to the prefix
	// alone, which is always well-formed and shorter than the cap.
	if !commentRegex.MatchString(comment) {
		comment = truncateRunes(prefix, maxCommentLength)
	}
	return comment
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// validateComment reports whether comment matches the tracking format and
// respects the length cap (counted in bytes). Used by the broker's own tests.
func validateComment(comment string) bool {
	return len(comment) <= maxCommentLength && commentRegex.MatchString(comment)
}
