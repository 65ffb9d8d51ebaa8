package pxlsbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const boardFileName = "boarddata.png"

// boardKind selects which canvas layer to render.
type boardKind int

const (
	boardNormal boardKind = iota
	boardHeatmap
	boardVirginmap
	boardPlacemap
)

const (
	colorHeatmap  = 0xCD5C5C
	colorPlacemap = 0xFFFFFF
)

var (
	heatmapArgRegex   = regexp.MustCompile(`h(eat)?m(ap)?`)
	virginmapArgRegex = regexp.MustCompile(`v(irgin)?m(ap)?`)
	placemapArgRegex  = regexp.MustCompile(`p(lace)?m(ap)?`)
)

// canvasInfo is the subset of the canvas /info payload the renderer
// needs.
type canvasInfo struct {
	CanvasCode      string   `json:"canvasCode"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	Palette         []string `json:"palette"`
	HeatmapCooldown int      `json:"heatmapCooldown"`
}

func boardCommand() *Command {
	return &Command{
		ID:          "board",
		Name:        "Board",
		Category:    "Pxls",
		Description: "Sends an image of the board.",
		Usage:       "board [heatmap | virginmap | placemap]",
		Aliases:     []string{"board", "boarddata", "boardmap", "canvas"},
		Execute:     executeBoard,
	}
}

func executeBoard(
	ctx context.Context,
	b *Bot,
	m *discordgo.MessageCreate,
	argument string,
) error {
	session := b.discord.session

	arg := strings.ToLower(argument)
	if fields := strings.Fields(arg); len(fields) > 0 {
		arg = fields[0]
	}

	var kind boardKind
	embed := &discordgo.MessageEmbed{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	switch {
	case heatmapArgRegex.MatchString(arg):
		kind = boardHeatmap
		embed.Title = "Pxls Heatmap"
		embed.Color = colorHeatmap
	case virginmapArgRegex.MatchString(arg):
		kind = boardVirginmap
		embed.Title = "Pxls Virginmap"
		embed.Color = colorGreen
	case placemapArgRegex.MatchString(arg):
		kind = boardPlacemap
		embed.Title = "Pxls Placemap"
		embed.Color = colorPlacemap
	default:
		kind = boardNormal
		embed.Title = "Pxls Board"
		embed.Color = colorSkyBlue
	}

	info, err := b.fetchCanvasInfo(ctx)
	if err != nil {
		b.logger.Warn("could not get canvas info", tint.Err(err))
		embed.Description = "Could not get Pxls information."
		_, err = session.ChannelMessageSendEmbed(m.ChannelID, embed)
		return err
	}

	data, err := b.fetchBoardData(ctx, kind)
	if err == nil && len(data) < info.Width*info.Height {
		err = fmt.Errorf(
			"board data too short: %d bytes for %dx%d",
			len(data), info.Width, info.Height,
		)
	}
	if err != nil {
		b.logger.Warn("could not get board data", tint.Err(err))
		embed.Description = "Could not get the board data."
		_, err = session.ChannelMessageSendEmbed(m.ChannelID, embed)
		return err
	}

	img, err := renderBoardImage(kind, info, data)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("error encoding board image: %w", err)
	}

	embed.Image = &discordgo.MessageEmbedImage{
		URL: "attachment://" + boardFileName,
	}
	_, err = session.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files: []*discordgo.File{
			{
				Name:        boardFileName,
				ContentType: "image/png",
				Reader:      &buf,
			},
		},
	})
	return err
}

func (b *Bot) canvasHTTPClient() *http.Client {
	if b.config.HTTPClient != nil {
		return b.config.HTTPClient
	}
	return http.DefaultClient
}

func (b *Bot) canvasGet(ctx context.Context, path string) ([]byte, error) {
	reqURL := strings.TrimSuffix(b.config.Canvas.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.canvasHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not GET %s: %w", reqURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not GET %s: %s", reqURL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (b *Bot) fetchCanvasInfo(ctx context.Context) (*canvasInfo, error) {
	body, err := b.canvasGet(ctx, "/info")
	if err != nil {
		return nil, err
	}
	var info canvasInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("error decoding canvas info: %w", err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf(
			"invalid canvas dimensions: %dx%d",
			info.Width, info.Height,
		)
	}
	return &info, nil
}

func (b *Bot) fetchBoardData(ctx context.Context, kind boardKind) ([]byte, error) {
	path := "/boarddata"
	switch kind {
	case boardHeatmap:
		path = "/heatmap"
	case boardVirginmap:
		path = "/virginmap"
	case boardPlacemap:
		path = "/placemap"
	}
	return b.canvasGet(ctx, path)
}

// renderBoardImage converts one byte per pixel of board data into an
// image. Normal boards index into the canvas palette with 0xFF meaning
// "no pixel"; heatmaps scale by placement recency; virginmaps and
// placemaps are two-tone masks.
func renderBoardImage(
	kind boardKind,
	info *canvasInfo,
	data []byte,
) (image.Image, error) {
	palette := make([]color.NRGBA, 0, len(info.Palette))
	for _, hex := range info.Palette {
		c, err := parsePaletteColor(hex)
		if err != nil {
			return nil, fmt.Errorf("invalid palette entry %q: %w", hex, err)
		}
		palette = append(palette, c)
	}

	img := image.NewNRGBA(image.Rect(0, 0, info.Width, info.Height))
	for y := 0; y < info.Height; y++ {
		for x := 0; x < info.Width; x++ {
			pixel := data[y*info.Width+x]
			switch kind {
			case boardNormal:
				if pixel == 0xFF || int(pixel) >= len(palette) {
					// transparent: no pixel placed here
					continue
				}
				img.SetNRGBA(x, y, palette[pixel])
			case boardHeatmap:
				img.SetNRGBA(x, y, color.NRGBA{
					R: uint8(uint32(colorHeatmap>>16&0xFF) * uint32(pixel) / 0xFF),
					G: uint8(uint32(colorHeatmap>>8&0xFF) * uint32(pixel) / 0xFF),
					B: uint8(uint32(colorHeatmap&0xFF) * uint32(pixel) / 0xFF),
					A: 0xFF,
				})
			case boardVirginmap:
				c := color.NRGBA{A: 0xFF}
				if pixel == 0xFF {
					c = color.NRGBA{G: 0xFF, A: 0xFF}
				}
				img.SetNRGBA(x, y, c)
			case boardPlacemap:
				alpha := uint8(0xFF)
				if pixel == 0xFF {
					alpha = 0
				}
				img.SetNRGBA(x, y, color.NRGBA{
					R: 0xFF, G: 0xFF, B: 0xFF, A: alpha,
				})
			}
		}
	}
	return img, nil
}

func parsePaletteColor(hex string) (color.NRGBA, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return color.NRGBA{}, err
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xFF,
	}, nil
}
