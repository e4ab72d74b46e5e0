package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackPublisher posts completed sessions to a Slack channel.
type SlackPublisher struct {
	client    slackClient
	channelID string
}

// SlackOpts holds parameters for creating a SlackPublisher.
type SlackOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a SlackPublisher.
func NewSlack(opts SlackOpts) (*SlackPublisher, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &SlackPublisher{client: client, channelID: opts.ChannelID}, nil
}

func (s *SlackPublisher) Publish(ctx context.Context, evt Event) error {
	attachment := slackapi.Attachment{
		Color: "#36a64f",
		Title: evt.Name,
		Text:  summary(evt),
		Fields: []slackapi.AttachmentField{
			{Title: "Session", Value: evt.SessionID, Short: true},
			{Title: "Messages", Value: fmt.Sprintf("%d", evt.MessageCount), Short: true},
		},
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slackapi.MsgOptionText(summary(evt), false),
		slackapi.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

// discordSession abstracts the discordgo.Session methods we use.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordPublisher posts completed sessions to a Discord channel.
type DiscordPublisher struct {
	sess      discordSession
	channelID string
}

// DiscordOpts holds parameters for creating a DiscordPublisher.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	Session   discordSession // for testing
}

// NewDiscord creates a DiscordPublisher. It uses the REST API only; no
// gateway connection is opened.
func NewDiscord(opts DiscordOpts) (*DiscordPublisher, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord channel is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		sess = dg
	}
	return &DiscordPublisher{sess: sess, channelID: opts.ChannelID}, nil
}

func (d *DiscordPublisher) Publish(ctx context.Context, evt Event) error {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Name,
		Description: summary(evt),
		Color:       0x36a64f,
		Timestamp:   evt.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Session", Value: evt.SessionID, Inline: true},
			{Name: "Messages", Value: fmt.Sprintf("%d", evt.MessageCount), Inline: true},
		},
	}
	if _, err := d.sess.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
