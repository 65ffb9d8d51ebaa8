package pxlsbot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	// coordinateMaximum bounds each coordinate component.
	coordinateMaximum = 1_000_000

	// defaultCanvasScale is the zoom applied when a message omits one.
	defaultCanvasScale = "20"
)

var (
	// Matches "123, 456" or "123, 456, 20x": x, y, and an optional
	// scale, separated by commas, periods, or spaces.
	coordsInsideRegex = regexp.MustCompile(
		`([0-9]+)[., ]{1,2}([0-9]+)[., ]{0,2}([0-9]+)?x?`,
	)

	// The passive listener only reacts to the parenthesized form, e.g.
	// "check (123, 456)".
	coordsFullRegex = regexp.MustCompile(
		`\(` + coordsInsideRegex.String() + `\)`,
	)
)

func coordinatesCommand() *Command {
	return &Command{
		ID:          "coordinates",
		Name:        "Coordinates",
		Category:    "Utility",
		Description: "Prints Pxls coordinates.",
		Usage:       "coords (x) (y) [zoom]",
		Aliases:     []string{"coords", "coordinates"},
		Execute:     executeCoordinates,
	}
}

func executeCoordinates(
	_ context.Context,
	b *Bot,
	m *discordgo.MessageCreate,
	argument string,
) error {
	if argument == "" {
		return nil
	}
	args := strings.Split(argument, " ")

	var x, y, scale string
	switch {
	case len(args) > 1 && validateCoordinates(args[0], args[1], argAt(args, 2)):
		x, y, scale = args[0], args[1], argAt(args, 2)
	case strings.Contains(args[0], ",") && !strings.HasPrefix(args[0], "("):
		// the parenthesized form is left to the passive listener
		match := coordsInsideRegex.FindStringSubmatch(args[0])
		if match == nil || !validateCoordinates(match[1], match[2], match[3]) {
			return nil
		}
		x, y, scale = match[1], match[2], match[3]
	default:
		return nil
	}

	_, err := b.discord.session.ChannelMessageSend(
		m.ChannelID,
		b.canvasLink(x, y, scale),
	)
	return err
}

// handleCoordinateMessage is the passive listener: any non-command
// message containing parenthesized coordinates gets a canvas link
// reply.
func (b *Bot) handleCoordinateMessage(m *discordgo.MessageCreate) {
	match := coordsFullRegex.FindStringSubmatch(m.Content)
	if match == nil || !validateCoordinates(match[1], match[2], match[3]) {
		return
	}
	_, _ = b.discord.session.ChannelMessageSend(
		m.ChannelID,
		b.canvasLink(match[1], match[2], match[3]),
	)
}

// canvasLink formats a suppressed-preview link to the canvas at the
// given position.
func (b *Bot) canvasLink(x, y, scale string) string {
	if scale == "" {
		scale = defaultCanvasScale
	}
	return fmt.Sprintf(
		"<%s/#x=%s&y=%s&scale=%s>",
		strings.TrimSuffix(b.config.Canvas.URL, "/"),
		x, y, scale,
	)
}

// validateCoordinates reports whether x and y parse as numbers no
// greater than coordinateMaximum. An unparseable scale falls back to
// the default rather than failing validation.
func validateCoordinates(x, y, scale string) bool {
	xv, err := strconv.ParseFloat(x, 64)
	if err != nil {
		return false
	}
	yv, err := strconv.ParseFloat(y, 64)
	if err != nil {
		return false
	}
	sv, err := strconv.ParseFloat(scale, 64)
	if err != nil {
		sv = 20
	}
	return xv <= coordinateMaximum &&
		yv <= coordinateMaximum &&
		sv != 0 &&
		sv <= coordinateMaximum
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
