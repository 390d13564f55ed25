package config

// LegacyPermissionPrefix is the prefix of the permission nodes given to
// features migrated from legacy settings.
const LegacyPermissionPrefix = "newplayerperks.perk."

// legacyKeys lists the perk toggles of the flat settings layout, in the order
// they were declared.
var legacyKeys = []string{"invulnerable", "fly", "keep-inventory", "keep-exp", "void-teleport"}

// legacyAliases maps the toggles that were renamed or split over time.
var legacyAliases = map[string]string{
	"keepinventory":  "keep-inventory",
	"keepexp":        "keep-exp",
	"voidteleport":   "void-teleport",
	"essentials-fly": "fly",
	"island-fly":     "fly",
}

// migrateLegacy converts the flat perk toggles of an unversioned document
// into feature entries. The document itself is not rewritten.
func migrateLegacy(header map[string]any) ([]rawEntry, bool) {
	toggles := map[string]bool{}
	for key, v := range header {
		enabled, ok := v.(bool)
		if !ok {
			continue
		}
		if alias, ok := legacyAliases[key]; ok {
			key = alias
		}
		toggles[key] = toggles[key] || enabled
	}
	var entries []rawEntry
	for _, key := range legacyKeys {
		enabled, ok := toggles[key]
		if !ok {
			continue
		}
		entries = append(entries, rawEntry{values: map[string]any{
			"id":         key,
			"enabled":    enabled,
			"permission": LegacyPermissionPrefix + key,
		}})
	}
	return entries, len(entries) > 0
}
