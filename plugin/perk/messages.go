package perk

import "github.com/newplayerperks/npp/plugin/message"

// Keys of the document-wide messages used by perks.
const (
	MessagePrefix          = "prefix"
	MessageReload          = "reload"
	MessageAddedPerks      = "added-perks"
	MessageRemovedPerks    = "removed-perks"
	MessagePlayerDataError = "player-data-error"
	MessageSettingsError   = "settings-error"
	MessageExpiredError    = "expired-error"
	MessageEnableExpired   = "enable-expired"
	MessageDisableExpired  = "disable-expired"
	MessageNewPlayer       = "new-player"
	MessagePerksEnabled    = "perks-enabled"
	MessagePerksRemoved    = "perks-removed"
	MessagePerksDisabled   = "perks-disabled"
	MessagePerksExpired    = "perks-expired"
)

// DefaultMessages holds the templates used for keys a document does not set.
var DefaultMessages = map[string]string{
	MessagePrefix:          "<aqua><bold>NewPlayerPerks</bold></aqua><grey> ▪ </grey>",
	MessageReload:          "<green>Configuration files have been reloaded.</green>",
	MessageAddedPerks:      "<green>Perks have been successfully added to player <player_name>.</green>",
	MessageRemovedPerks:    "<green>Perks have been successfully removed from player <player_name>.</green>",
	MessagePlayerDataError: "<red>Unable to process your request due to no player data found.</red>",
	MessageSettingsError:   "<red>Unable to process your request due to invalid plugin settings.</red>",
	MessageExpiredError:    "<red>Unable to process your request due to your perks having already expired.</red>",
	MessageEnableExpired:   "<red>Unable to enable perks because they have already expired.</red>",
	MessageDisableExpired:  "<red>Unable to disable perks because they have already expired.</red>",
	MessageNewPlayer:       "<green>For the next <remaining_time> you are invulnerable, have keep inventory, and will be teleported to your island if you fall into the void.</green>\n<green>Use this time to get a jump start on your island and get to know the server.</green>",
	MessagePerksEnabled:    "<green>Your perks have been enabled. Your perks will expire at <expire_time>. Remaining time: <remaining_time></green>",
	MessagePerksRemoved:    "<red>Your perks have been removed. You are no longer invulnerable, don't have keep inventory, and won't be teleported to your island if you fall into the void.</red>",
	MessagePerksDisabled:   "<green>Your perks have been disabled. You can re-enable them as long as they haven't expired.</green>\n<green>Your perks will expire at <expire_time>. Remaining time: <remaining_time></green>",
	MessagePerksExpired:    "<red>Your invulnerability, keep inventory, void teleport perks have expired!</red>\n<red>You can now take damage, die, and you won't be teleported to your island if you fall into the void!</red>",
}

// Placeholders lists the placeholders every perk message is rendered with.
var Placeholders = []string{"player_name", "expire_time", "remaining_time"}

var defaultTemplates = message.CompileAll(DefaultMessages)
