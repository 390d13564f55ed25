package plugin

// DefaultFeatures is the feature document written on first start.
const DefaultFeatures = `# NewPlayerPerks feature configuration.
config-version = "1.2.0.1"
locale = "en-US"

# How long perks last after a player first joined, such as "6h", "1d 12h" or "90m".
period = "6h"

[permission]
# What to do when the permission backend fails: "deny" or "allow".
on-provider-error = "deny"
timeout = "2s"

# Messages support formatting tags such as <green>...</green> and the
# placeholders <player_name>, <expire_time> and <remaining_time>. Uncomment a
# line to override the built-in message.
[messages]
# prefix = "<aqua><bold>NewPlayerPerks</bold></aqua><grey> ▪ </grey>"
# new-player = "<green>For the next <remaining_time> you are invulnerable.</green>"

[[features]]
id = "invulnerable"
enabled = true
permission = "newplayerperks.perk.invulnerable"

[[features]]
id = "keep-inventory"
enabled = true
permission = "newplayerperks.perk.keep-inventory"

[[features]]
id = "keep-exp"
enabled = false
permission = "newplayerperks.perk.keep-exp"

[[features]]
id = "fly"
enabled = false
permission = "newplayerperks.perk.fly"

  [features.params]
  nodes = ["essentials.fly", "bskyblock.island.fly"]

[[features]]
id = "void-teleport"
enabled = true
permission = "newplayerperks.perk.void-teleport"

  [features.params]
  nodes = ["bskyblock.voidteleport"]
  min-y = -64
`
