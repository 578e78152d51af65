package sys

import (
	"encoding/json"
	"net/http"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// V2 Components
// ============================================================================

const (
	ComponentTypeSection     discord.ComponentType = 9
	ComponentTypeTextDisplay discord.ComponentType = 10
	ComponentTypeThumbnail   discord.ComponentType = 11
	ComponentTypeSeparator   discord.ComponentType = 14
	ComponentTypeContainer   discord.ComponentType = 17

	MessageFlagsIsComponentsV2 discord.MessageFlags = 1 << 15
)

// UnfurledMediaItem represents an unfurled media item.
type UnfurledMediaItem struct {
	URL string `json:"url"`
}

// Thumbnail is a component that displays a single image/thumbnail.
type Thumbnail struct {
	Media       UnfurledMediaItem `json:"media"`
	Description *string           `json:"description,omitempty"`
	Spoiler     bool              `json:"spoiler,omitempty"`
}

func (t Thumbnail) Type() discord.ComponentType {
	return ComponentTypeThumbnail
}

func (t Thumbnail) MarshalJSON() ([]byte, error) {
	type thumbnail Thumbnail
	return json.Marshal(struct {
		thumbnail
		Type discord.ComponentType `json:"type"`
	}{
		thumbnail: thumbnail(t),
		Type:      t.Type(),
	})
}

// Separator is a component that renders a visual separator or spacing.
type Separator struct {
	Divider bool             `json:"divider,omitempty"`
	Spacing SeparatorSpacing `json:"spacing,omitempty"`
}

func (s Separator) Type() discord.ComponentType {
	return ComponentTypeSeparator
}

func (s Separator) MarshalJSON() ([]byte, error) {
	type separator Separator
	return json.Marshal(struct {
		separator
		Type discord.ComponentType `json:"type"`
	}{
		separator: separator(s),
		Type:      s.Type(),
	})
}

// TextDisplay is a top-level component that allows you to add markdown-formatted text to the message.
type TextDisplay struct {
	Content string `json:"content"`
}

func (t TextDisplay) Type() discord.ComponentType {
	return ComponentTypeTextDisplay
}

func (t TextDisplay) MarshalJSON() ([]byte, error) {
	type textDisplay TextDisplay
	return json.Marshal(struct {
		textDisplay
		Type discord.ComponentType `json:"type"`
	}{
		textDisplay: textDisplay(t),
		Type:        t.Type(),
	})
}

// Section groups text displays with an optional accessory such as a thumbnail.
type Section struct {
	Components []any `json:"components"`
	Accessory  any   `json:"accessory,omitempty"`
}

func (s Section) Type() discord.ComponentType {
	return ComponentTypeSection
}

func (s Section) MarshalJSON() ([]byte, error) {
	type section Section
	return json.Marshal(struct {
		section
		Type discord.ComponentType `json:"type"`
	}{
		section: section(s),
		Type:    s.Type(),
	})
}

// Container is a top-level component that contains other components.
type Container struct {
	Components []any `json:"components"`
}

func (c Container) Type() discord.ComponentType {
	return ComponentTypeContainer
}

func (c Container) MarshalJSON() ([]byte, error) {
	type container Container
	return json.Marshal(struct {
		container
		Type discord.ComponentType `json:"type"`
	}{
		container: container(c),
		Type:      c.Type(),
	})
}

// Helper functions for building components

func NewV2Container(components ...any) Container {
	return Container{
		Components: components,
	}
}

func NewTextDisplay(content string) TextDisplay {
	return TextDisplay{
		Content: content,
	}
}

func NewThumbnail(url string) Thumbnail {
	return Thumbnail{
		Media: UnfurledMediaItem{
			URL: url,
		},
	}
}

// SeparatorSpacing defines the spacing size for a separator.
type SeparatorSpacing int

const (
	SeparatorSpacingSmall  SeparatorSpacing = 0
	SeparatorSpacingMedium SeparatorSpacing = 1 // default
	SeparatorSpacingLarge  SeparatorSpacing = 2
)

func NewSeparator(divider bool) Separator {
	return Separator{
		Divider: divider,
	}
}

// NewSection creates a new Section component. A nil accessory is omitted.
func NewSection(content string, accessory any) Section {
	s := Section{
		Components: []any{NewTextDisplay(content)},
	}
	if accessory != nil {
		s.Accessory = accessory
	}
	return s
}

// NewNoticeContainer wraps a single markdown line in a container.
func NewNoticeContainer(content string) Container {
	return NewV2Container(NewTextDisplay(content))
}

// ============================================================================
// REST helpers
// ============================================================================

// EditInteractionV2 edits the original interaction response with ComponentsV2.
func EditInteractionV2(client *bot.Client, interaction discord.Interaction, container Container) error {
	route := rest.NewEndpoint(http.MethodPatch, "/webhooks/{application.id}/{interaction.token}/messages/@original")

	data := struct {
		Components []any                `json:"components"`
		Flags      discord.MessageFlags `json:"flags"`
	}{
		Components: []any{container},
		Flags:      MessageFlagsIsComponentsV2,
	}

	compiledRoute := route.Compile(nil, client.ApplicationID.String(), interaction.Token())

	return client.Rest.Do(compiledRoute, data, nil)
}

// RespondInteractionV2 responds to an interaction with ComponentsV2.
func RespondInteractionV2(client *bot.Client, interaction discord.Interaction, container Container, ephemeral bool) error {
	route := rest.NewEndpoint(http.MethodPost, "/interactions/{interaction.id}/{interaction.token}/callback")

	var flags discord.MessageFlags = MessageFlagsIsComponentsV2
	if ephemeral {
		flags |= discord.MessageFlagEphemeral
	}

	type responseData struct {
		Components []any                `json:"components"`
		Flags      discord.MessageFlags `json:"flags"`
	}
	data := struct {
		Type discord.InteractionResponseType `json:"type"`
		Data responseData                    `json:"data"`
	}{
		Type: discord.InteractionResponseTypeCreateMessage,
		Data: responseData{
			Components: []any{container},
			Flags:      flags,
		},
	}

	compiledRoute := route.Compile(nil, interaction.ID().String(), interaction.Token())

	return client.Rest.Do(compiledRoute, data, nil)
}

// SendMessageV2 sends a channel message using ComponentsV2.
func SendMessageV2(client *bot.Client, channelID snowflake.ID, container Container) (*discord.Message, error) {
	route := rest.NewEndpoint(http.MethodPost, "/channels/{channel.id}/messages")

	data := struct {
		Components []any                `json:"components"`
		Flags      discord.MessageFlags `json:"flags"`
	}{
		Components: []any{container},
		Flags:      MessageFlagsIsComponentsV2,
	}

	compiledRoute := route.Compile(nil, channelID.String())

	var msg discord.Message
	err := client.Rest.Do(compiledRoute, data, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
