package perk

import (
	"iter"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/newplayerperks/npp/plugin/message"
)

// Player is an online player as seen by perks. Implementations may also
// implement Invulnerable, Flyer and Teleporter to support the perks that
// change player state directly.
type Player interface {
	UUID() uuid.UUID
	Name() string
	// Message sends text to the player.
	Message(text message.FormattedText)
}

// Invulnerable is implemented by players whose damage can be toggled.
type Invulnerable interface {
	SetInvulnerable(v bool)
}

// Flyer is implemented by players whose ability to fly can be toggled.
type Flyer interface {
	SetFlightAllowed(v bool)
}

// Teleporter is implemented by players that can be moved.
type Teleporter interface {
	Teleport(pos mgl64.Vec3)
}

// Host gives access to the players online on the server.
type Host interface {
	// Player returns the online player with the given id, or false if the
	// player is not online.
	Player(id uuid.UUID) (Player, bool)
	// Players iterates over every online player.
	Players() iter.Seq[Player]
}

// offlinePlayer stands in for players that left while perks are revoked.
type offlinePlayer uuid.UUID

func (o offlinePlayer) UUID() uuid.UUID               { return uuid.UUID(o) }
func (o offlinePlayer) Name() string                  { return uuid.UUID(o).String() }
func (o offlinePlayer) Message(message.FormattedText) {}
