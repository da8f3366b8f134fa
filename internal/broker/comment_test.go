package broker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStampComment_PrependsTrackingPrefixAndKeepsUserText(t *testing.T) {
	comment := stampComment(1, 2, "3", "4", "buy the dip")
	assert.True(t, strings.HasSuffix(comment, "buy the dip"))
	assert.True(t, validateComment(comment))
}

func TestStampComment_OmitsExpertSegmentWhenExpertIDZero(t *testing.T) {
	comment := stampComment(1, 0, "3", "4", "manual")
	assert.NotContains(t, comment, "/EXP:")
	assert.True(t, validateComment(comment))
}

func TestStampComment_TruncatesOverlongUserCommentButStaysValid(t *testing.T) {
	longComment := strings.Repeat("x", 500)
	comment := stampComment(1, 2, "3", "4", longComment)
	assert.LessOrEqual(t, len([]rune(comment)), maxCommentLength)
	assert.True(t, validateComment(comment))
}

func TestValidateComment_RejectsEmptyString(t *testing.T) {
	assert.False(t, validateComment(""))
}
