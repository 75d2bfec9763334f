package client

import (
	"github.com/blukai/climbparty/internal/protocol"
)

type ChatMessage struct {
	Name  string
	Color protocol.Color
	Text  string
}

// Observer receives everything the client has to tell the outside world
// (rendering, chat UI). All calls happen inside Client.Update, Connect or
// Disconnect, on the caller's goroutine.
type Observer interface {
	PlayerJoined(p *RemotePlayer)
	PlayerLeft(p *RemotePlayer)
	ChatMessage(m ChatMessage)
	// SystemMessage is a line the client itself wants shown in chat.
	SystemMessage(text string, color protocol.Color)
	// SpectateChanged fires with 0 when spectating stops.
	SpectateChanged(target int32)
	Connected(info protocol.ServerInfo)
	Disconnected(d Disconnect)
}

// NopObserver ignores everything. Embed it to implement only what you need.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) PlayerJoined(*RemotePlayer)           {}
func (NopObserver) PlayerLeft(*RemotePlayer)             {}
func (NopObserver) ChatMessage(ChatMessage)              {}
func (NopObserver) SystemMessage(string, protocol.Color) {}
func (NopObserver) SpectateChanged(int32)                {}
func (NopObserver) Connected(protocol.ServerInfo)        {}
func (NopObserver) Disconnected(Disconnect)              {}
