// Package discord implements gateway.Gateway on the Discord REST API.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/lherron/guildsnap/internal/gateway"
	"github.com/lherron/guildsnap/internal/snapshot"
)

// Config configures the REST client.
type Config struct {
	Token string
	// RequestsPerSecond caps outgoing REST calls; 0 means 5.
	RequestsPerSecond float64
	MaxRetries        int
}

// Client talks to Discord with a bot token.
type Client struct {
	session *discordgo.Session
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a client. It does not contact Discord.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, &gateway.FatalError{Op: "connect", Err: errors.New("no bot token configured")}
	}

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, &gateway.FatalError{Op: "connect", Err: err}
	}
	s.ShouldRetryOnRateLimit = true
	if cfg.MaxRetries > 0 {
		s.MaxRestRetries = cfg.MaxRetries
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		session: s,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.With("component", "discord"),
	}, nil
}

// wait blocks for the client-side limiter and returns request options
// bound to ctx.
func (c *Client) wait(ctx context.Context) ([]discordgo.RequestOption, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return []discordgo.RequestOption{discordgo.WithContext(ctx)}, nil
}

func (c *Client) Guild(ctx context.Context, guildID string) (*gateway.Guild, error) {
	opts, err := c.wait(ctx)
	if err != nil {
		return nil, err
	}
	g, err := c.session.Guild(guildID, opts...)
	if err != nil {
		return nil, classify(ctx, "get guild", err)
	}

	if opts, err = c.wait(ctx); err != nil {
		return nil, err
	}
	channels, err := c.session.GuildChannels(guildID, opts...)
	if err != nil {
		return nil, classify(ctx, "list channels", err)
	}

	out := &gateway.Guild{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		PremiumTier: int(g.PremiumTier),
		Limits:      gateway.TierLimits(int(g.PremiumTier)),
	}
	for _, ch := range channels {
		out.Channels = append(out.Channels, fromChannel(ch))
	}
	for _, r := range g.Roles {
		out.Roles = append(out.Roles, gateway.Role{
			ID:       r.ID,
			Name:     r.Name,
			Position: r.Position,
			Managed:  r.Managed,
			Default:  r.ID == g.ID,
		})
	}
	sort.Slice(out.Roles, func(i, j int) bool { return out.Roles[i].Position < out.Roles[j].Position })
	for _, e := range g.Emojis {
		out.Emojis = append(out.Emojis, gateway.Asset{ID: e.ID, Name: e.Name})
	}
	for _, s := range g.Stickers {
		out.Stickers = append(out.Stickers, gateway.Asset{ID: s.ID, Name: s.Name})
	}
	return out, nil
}

func (c *Client) CreateChannel(ctx context.Context, guildID string, spec gateway.ChannelSpec) (gateway.Channel, error) {
	typ, ok := toChannelType(spec.Type)
	if !ok {
		return gateway.Channel{}, fmt.Errorf("create channel %s: %w: type %q", spec.Name, gateway.ErrUnsupported, spec.Type)
	}
	opts, err := c.wait(ctx)
	if err != nil {
		return gateway.Channel{}, err
	}
	ch, err := c.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:             spec.Name,
		Type:             typ,
		Topic:            spec.Topic,
		Bitrate:          spec.Bitrate,
		UserLimit:        spec.UserLimit,
		RateLimitPerUser: spec.Slowmode,
		Position:         spec.Position,
		ParentID:         spec.ParentID,
		NSFW:             spec.NSFW,
	}, opts...)
	if err != nil {
		return gateway.Channel{}, classify(ctx, "create channel", err)
	}
	return fromChannel(ch), nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	opts, err := c.wait(ctx)
	if err != nil {
		return err
	}
	if _, err := c.session.ChannelDelete(channelID, opts...); err != nil {
		return classify(ctx, "delete channel", err)
	}
	return nil
}

func (c *Client) CreateRole(ctx context.Context, guildID string, spec gateway.RoleSpec) (gateway.Role, error) {
	opts, err := c.wait(ctx)
	if err != nil {
		return gateway.Role{}, err
	}
	color, hoist, perms, mentionable := spec.Color, spec.Hoist, spec.Permissions, spec.Mentionable
	r, err := c.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        spec.Name,
		Color:       &color,
		Hoist:       &hoist,
		Permissions: &perms,
		Mentionable: &mentionable,
	}, opts...)
	if err != nil {
		return gateway.Role{}, classify(ctx, "create role", err)
	}
	return gateway.Role{ID: r.ID, Name: r.Name, Position: r.Position, Managed: r.Managed}, nil
}

func (c *Client) DeleteRole(ctx context.Context, guildID, roleID string) error {
	opts, err := c.wait(ctx)
	if err != nil {
		return err
	}
	if err := c.session.GuildRoleDelete(guildID, roleID, opts...); err != nil {
		return classify(ctx, "delete role", err)
	}
	return nil
}

func (c *Client) CreateEmoji(ctx context.Context, guildID, name string, img gateway.Image) (gateway.Asset, error) {
	opts, err := c.wait(ctx)
	if err != nil {
		return gateway.Asset{}, err
	}
	e, err := c.session.GuildEmojiCreate(guildID, &discordgo.EmojiParams{Name: name, Image: img.DataURI()}, opts...)
	if err != nil {
		return gateway.Asset{}, classify(ctx, "create emoji", err)
	}
	return gateway.Asset{ID: e.ID, Name: e.Name}, nil
}

// CreateSticker posts the multipart form the sticker endpoint expects;
// discordgo has no typed helper for it.
func (c *Client) CreateSticker(ctx context.Context, guildID string, spec gateway.StickerSpec, img gateway.Image) (gateway.Asset, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := [][2]string{{"name", spec.Name}, {"description", spec.Description}, {"tags", stickerTags(spec)}}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return gateway.Asset{}, fmt.Errorf("create sticker %s: %w", spec.Name, err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, img.Name))
	h.Set("Content-Type", img.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return gateway.Asset{}, fmt.Errorf("create sticker %s: %w", spec.Name, err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return gateway.Asset{}, fmt.Errorf("create sticker %s: %w", spec.Name, err)
	}
	if err := w.Close(); err != nil {
		return gateway.Asset{}, fmt.Errorf("create sticker %s: %w", spec.Name, err)
	}

	opts, err := c.wait(ctx)
	if err != nil {
		return gateway.Asset{}, err
	}
	endpoint := discordgo.EndpointGuild(guildID) + "/stickers"
	resp, err := c.session.RequestRaw(http.MethodPost, endpoint, w.FormDataContentType(), body.Bytes(), endpoint, 0, opts...)
	if err != nil {
		return gateway.Asset{}, classify(ctx, "create sticker", err)
	}

	var st discordgo.Sticker
	if err := json.Unmarshal(resp, &st); err != nil {
		return gateway.Asset{}, fmt.Errorf("create sticker %s: decode response: %w", spec.Name, err)
	}
	return gateway.Asset{ID: st.ID, Name: st.Name}, nil
}

func (c *Client) EditGuild(ctx context.Context, guildID string, edit gateway.GuildEdit) error {
	params := &discordgo.GuildParams{}
	if edit.Name != nil {
		params.Name = *edit.Name
	}
	if edit.Description != nil {
		params.Description = *edit.Description
	}
	if edit.Icon != nil {
		params.Icon = edit.Icon.DataURI()
	}
	if edit.Banner != nil {
		params.Banner = edit.Banner.DataURI()
	}

	opts, err := c.wait(ctx)
	if err != nil {
		return err
	}
	if _, err := c.session.GuildEdit(guildID, params, opts...); err != nil {
		return classify(ctx, "edit guild", err)
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg gateway.Outbound) error {
	opts, err := c.wait(ctx)
	if err != nil {
		return err
	}
	_, err = c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: msg.Content,
		Files:   toFiles(msg.Files),
	}, opts...)
	if err != nil {
		return classify(ctx, "send message", err)
	}
	return nil
}

func (c *Client) CreateRelay(ctx context.Context, channelID, name string) (gateway.Relay, error) {
	opts, err := c.wait(ctx)
	if err != nil {
		return gateway.Relay{}, err
	}
	wh, err := c.session.WebhookCreate(channelID, name, "", opts...)
	if err != nil {
		return gateway.Relay{}, classify(ctx, "create webhook", err)
	}
	return gateway.Relay{ID: wh.ID, Token: wh.Token, ChannelID: channelID}, nil
}

func (c *Client) ExecuteRelay(ctx context.Context, relay gateway.Relay, msg gateway.Outbound) error {
	opts, err := c.wait(ctx)
	if err != nil {
		return err
	}
	_, err = c.session.WebhookExecute(relay.ID, relay.Token, false, &discordgo.WebhookParams{
		Content:   msg.Content,
		Username:  msg.Username,
		AvatarURL: msg.AvatarURL,
		Files:     toFiles(msg.Files),
	}, opts...)
	if err != nil {
		return classify(ctx, "execute webhook", err)
	}
	return nil
}

func (c *Client) DeleteRelay(ctx context.Context, relay gateway.Relay) error {
	opts, err := c.wait(ctx)
	if err != nil {
		return err
	}
	if err := c.session.WebhookDelete(relay.ID, opts...); err != nil {
		return classify(ctx, "delete webhook", err)
	}
	return nil
}

// classify maps discordgo and network failures onto the gateway taxonomy.
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, discordgo.ErrUnauthorized) {
		return &gateway.FatalError{Op: op, Err: err}
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		status := rest.Response.StatusCode
		if status == http.StatusUnauthorized {
			return &gateway.FatalError{Op: op, Err: err}
		}
		return &gateway.TransportError{Kind: gateway.KindForStatus(status), Status: status, Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &gateway.FatalError{Op: op, Err: err}
	}
	return &gateway.TransportError{Kind: gateway.OtherHTTP, Op: op, Err: err}
}

func fromChannel(ch *discordgo.Channel) gateway.Channel {
	return gateway.Channel{
		ID:       ch.ID,
		Name:     ch.Name,
		Type:     fromChannelType(ch.Type),
		ParentID: ch.ParentID,
		Position: ch.Position,
	}
}

func fromChannelType(t discordgo.ChannelType) snapshot.ChannelType {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return snapshot.ChannelText
	case discordgo.ChannelTypeGuildVoice:
		return snapshot.ChannelVoice
	case discordgo.ChannelTypeGuildCategory:
		return snapshot.ChannelCategory
	case discordgo.ChannelTypeGuildNews:
		return snapshot.ChannelNews
	case discordgo.ChannelTypeGuildStageVoice:
		return snapshot.ChannelStage
	case discordgo.ChannelTypeGuildForum:
		return snapshot.ChannelForum
	default:
		return snapshot.ChannelType("type_" + strconv.Itoa(int(t)))
	}
}

func toChannelType(t snapshot.ChannelType) (discordgo.ChannelType, bool) {
	switch t {
	case snapshot.ChannelText:
		return discordgo.ChannelTypeGuildText, true
	case snapshot.ChannelVoice:
		return discordgo.ChannelTypeGuildVoice, true
	case snapshot.ChannelCategory:
		return discordgo.ChannelTypeGuildCategory, true
	case snapshot.ChannelForum:
		return discordgo.ChannelTypeGuildForum, true
	case snapshot.ChannelNews:
		return discordgo.ChannelTypeGuildNews, true
	case snapshot.ChannelStage:
		return discordgo.ChannelTypeGuildStageVoice, true
	}
	return 0, false
}

func toFiles(files []gateway.File) []*discordgo.File {
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		out = append(out, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(f.Data)})
	}
	return out
}

// stickerTags falls back to the sticker name; the endpoint rejects empty tags.
func stickerTags(spec gateway.StickerSpec) string {
	if spec.Tags != "" {
		return spec.Tags
	}
	return spec.Name
}
