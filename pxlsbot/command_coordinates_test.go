package pxlsbot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCoordinates(t *testing.T) {
	t.Parallel()
	assert.True(t, validateCoordinates("10", "20", "30"))
	assert.True(t, validateCoordinates("10", "20", ""))
	// unparseable scale falls back to the default instead of failing
	assert.True(t, validateCoordinates("10", "20", "x"))

	assert.False(t, validateCoordinates("", "20", "30"))
	assert.False(t, validateCoordinates("abc", "20", "30"))
	assert.False(t, validateCoordinates("10", "", "30"))
	assert.False(t, validateCoordinates("1000001", "20", "30"))
	assert.False(t, validateCoordinates("10", "1000001", "30"))
	assert.False(t, validateCoordinates("10", "20", "1000001"))
	assert.False(t, validateCoordinates("10", "20", "0"))

	assert.True(t, validateCoordinates("1000000", "1000000", "1000000"))
}

func TestCoordsRegexes(t *testing.T) {
	t.Parallel()
	match := coordsInsideRegex.FindStringSubmatch("123,456")
	require.NotNil(t, match)
	assert.Equal(t, "123", match[1])
	assert.Equal(t, "456", match[2])
	assert.Equal(t, "", match[3])

	match = coordsInsideRegex.FindStringSubmatch("123, 456, 20x")
	require.NotNil(t, match)
	assert.Equal(t, "20", match[3])

	// the passive form requires parentheses
	assert.Nil(t, coordsFullRegex.FindStringSubmatch("123, 456"))
	match = coordsFullRegex.FindStringSubmatch("check out (123, 456)")
	require.NotNil(t, match)
	assert.Equal(t, "123", match[1])
	assert.Equal(t, "456", match[2])
}

func TestCanvasLink(t *testing.T) {
	t.Parallel()
	b, _ := testBot(t)
	assert.Equal(
		t,
		"<https://pxls.space/#x=12&y=34&scale=20>",
		b.canvasLink("12", "34", ""),
	)
	assert.Equal(
		t,
		"<https://pxls.space/#x=12&y=34&scale=7>",
		b.canvasLink("12", "34", "7"),
	)

	b.config.Canvas.URL = "https://example.com/"
	assert.Equal(
		t,
		"<https://example.com/#x=1&y=2&scale=20>",
		b.canvasLink("1", "2", ""),
	)
}

func TestExecuteCoordinates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	msg := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: "chan1",
			Author:    &discordgo.User{ID: "user1"},
		},
	}

	// space-separated arguments
	require.NoError(t, executeCoordinates(ctx, b, msg, "12 34 7"))
	require.Len(t, session.sentMessages, 1)
	assert.Equal(t, "<https://pxls.space/#x=12&y=34&scale=7>", session.sentMessages[0])

	// comma form within a single argument
	require.NoError(t, executeCoordinates(ctx, b, msg, "56,78"))
	require.Len(t, session.sentMessages, 2)
	assert.Equal(t, "<https://pxls.space/#x=56&y=78&scale=20>", session.sentMessages[1])

	// the parenthesized form is left for the passive listener
	require.NoError(t, executeCoordinates(ctx, b, msg, "(12,34)"))
	assert.Len(t, session.sentMessages, 2)

	// garbage is ignored
	require.NoError(t, executeCoordinates(ctx, b, msg, "not coords"))
	assert.Len(t, session.sentMessages, 2)
}

func TestHandleCoordinateMessage(t *testing.T) {
	t.Parallel()
	b, session := testBot(t)

	m := func(content string) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{
			Message: &discordgo.Message{
				ChannelID: "chan1",
				Content:   content,
				Author:    &discordgo.User{ID: "user1"},
			},
		}
	}

	b.handleCoordinateMessage(m("look at (12, 34)"))
	require.Len(t, session.sentMessages, 1)
	assert.Equal(t, "<https://pxls.space/#x=12&y=34&scale=20>", session.sentMessages[0])

	// bare coordinates without parentheses are ignored
	b.handleCoordinateMessage(m("12, 34"))
	assert.Len(t, session.sentMessages, 1)

	// out-of-range coordinates are ignored
	b.handleCoordinateMessage(m("(9999999, 34)"))
	assert.Len(t, session.sentMessages, 1)
}
