package pxlsbot

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// mockDiscordSession implements DiscordSessionHandler for tests. Reads
// are driven by the fixture maps; mutations are recorded.
type mockDiscordSession struct {
	mu sync.Mutex

	botUserID   string
	channels    map[string]*discordgo.Channel
	messages    map[string]*discordgo.Message
	members     map[string]*discordgo.Member
	guilds      map[string]*discordgo.Guild
	permissions map[string]int64

	sentMessages   []string
	sentEmbeds     []*discordgo.MessageEmbed
	sentComplex    []*discordgo.MessageSend
	sentFiles      [][]byte
	editedEmbeds   []*discordgo.MessageEmbed
	deletedIDs     []string
	nextMessageID  int
	sendEmbedError error
}

func newMockSession() *mockDiscordSession {
	return &mockDiscordSession{
		botUserID:   "bot-user",
		channels:    map[string]*discordgo.Channel{},
		messages:    map[string]*discordgo.Message{},
		members:     map[string]*discordgo.Member{},
		guilds:      map[string]*discordgo.Guild{},
		permissions: map[string]int64{},
	}
}

func messageKey(channelID, messageID string) string {
	return channelID + "/" + messageID
}

func (m *mockDiscordSession) addChannel(channel *discordgo.Channel) {
	m.channels[channel.ID] = channel
	m.permissions[channel.ID] = starboardPermissions
}

func (m *mockDiscordSession) addMessage(msg *discordgo.Message) {
	m.messages[messageKey(msg.ChannelID, msg.ID)] = msg
}

func (m *mockDiscordSession) Open() error  { return nil }
func (m *mockDiscordSession) Close() error { return nil }

func (m *mockDiscordSession) AddHandler(any) func() {
	return func() {}
}

func (m *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel, ok := m.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel: %s", channelID)
	}
	return channel, nil
}

func (m *mockDiscordSession) GuildChannels(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var channels []*discordgo.Channel
	for _, channel := range m.channels {
		if channel.GuildID == guildID {
			channels = append(channels, channel)
		}
	}
	return channels, nil
}

func (m *mockDiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageKey(channelID, messageID)]
	if !ok {
		return nil, fmt.Errorf("unknown message: %s", messageID)
	}
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(m.sentMessages, content)
	m.nextMessageID++
	msg := &discordgo.Message{
		ID:        fmt.Sprintf("sent-%d", m.nextMessageID),
		ChannelID: channelID,
		Content:   content,
	}
	m.messages[messageKey(channelID, msg.ID)] = msg
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendEmbedError != nil {
		return nil, m.sendEmbedError
	}
	m.sentEmbeds = append(m.sentEmbeds, embed)
	m.nextMessageID++
	msg := &discordgo.Message{
		ID:        fmt.Sprintf("board-%d", m.nextMessageID),
		ChannelID: channelID,
		Embeds:    []*discordgo.MessageEmbed{embed},
	}
	m.messages[messageKey(channelID, msg.ID)] = msg
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentComplex = append(m.sentComplex, data)
	for _, file := range data.Files {
		contents, err := io.ReadAll(file.Reader)
		if err != nil {
			return nil, err
		}
		m.sentFiles = append(m.sentFiles, contents)
	}
	m.nextMessageID++
	msg := &discordgo.Message{
		ID:        fmt.Sprintf("sent-%d", m.nextMessageID),
		ChannelID: channelID,
		Embeds:    data.Embeds,
	}
	m.messages[messageKey(channelID, msg.ID)] = msg
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageEditEmbed(
	channelID string,
	messageID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageKey(channelID, messageID)]
	if !ok {
		return nil, fmt.Errorf("unknown message: %s", messageID)
	}
	m.editedEmbeds = append(m.editedEmbeds, embed)
	msg.Embeds = []*discordgo.MessageEmbed{embed}
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := messageKey(channelID, messageID)
	if _, ok := m.messages[key]; !ok {
		return fmt.Errorf("unknown message: %s", messageID)
	}
	delete(m.messages, key)
	m.deletedIDs = append(m.deletedIDs, messageID)
	return nil
}

func (m *mockDiscordSession) Guild(
	guildID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	guild, ok := m.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("unknown guild: %s", guildID)
	}
	return guild, nil
}

func (m *mockDiscordSession) GuildMember(
	guildID string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[guildID+"/"+userID]
	if !ok {
		return nil, fmt.Errorf("unknown member: %s", userID)
	}
	return member, nil
}

func (m *mockDiscordSession) UserChannelPermissions(
	_ string,
	channelID string,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissions[channelID], nil
}

func (m *mockDiscordSession) UpdateCustomStatus(string) error { return nil }

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (m *mockDiscordSession) StateUserID() string { return m.botUserID }

func (m *mockDiscordSession) SetHTTPClient(*http.Client) {}

var _ DiscordSessionHandler = (*mockDiscordSession)(nil)
