package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/newplayerperks/npp/plugin/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func tomlSource(s string) Source {
	return BytesSource{Label: "features.toml", Kind: FormatTOML, Data: []byte(s)}
}

func yamlSource(s string) Source {
	return BytesSource{Label: "features.yml", Kind: FormatYAML, Data: []byte(s)}
}

func ids(doc *Document) []string {
	out := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		out = append(out, e.ID)
	}
	return out
}

func entry(t *testing.T, doc *Document, id string) Entry {
	t.Helper()
	for _, e := range doc.Entries {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("no entry %q in %v", id, ids(doc))
	return Entry{}
}

func TestLoadSkipsEntryMissingRequiredField(t *testing.T) {
	doc, err := Load(tomlSource(`config-version = "1.2.0.1"
period = "6h"

[permission]
on-provider-error = "deny"

[[features]]
id = "a"
enabled = true
permission = "core.a"

[[features]]
id = "b"
permission = "BADSCHEMA"
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(doc))
	require.Len(t, doc.Errors, 1)

	cerr := doc.Errors[0]
	assert.ErrorIs(t, cerr, ErrMissingField)
	assert.Equal(t, "b", cerr.ID)
	assert.Equal(t, 1, cerr.Index)
	assert.Equal(t, "enabled", cerr.Field)
	assert.Equal(t, "features.toml", cerr.Source)
	assert.Equal(t, 12, cerr.Line)

	a := doc.Entries[0]
	assert.Equal(t, "a", a.Kind)
	assert.True(t, a.Enabled)
	assert.Equal(t, permission.Node("core.a"), a.Permission)
	assert.Equal(t, "v1.2.0+1", doc.Version)
}

func TestLoadYAMLIsolatesTypeErrors(t *testing.T) {
	doc, err := Load(yamlSource(`config-version: "1.2.0"
locale: de-DE
period: 1d12h
permission:
  on-provider-error: allow
  timeout: 250ms
messages:
  prefix: "<aqua>NPP</aqua> "
features:
  - id: fly
    enabled: true
    permission: newplayerperks.perk.fly
    messages:
      granted: "<green>You can fly.</green>"
    nodes: [essentials.fly]
  - id: keep-exp
    enabled: "yes"
    permission: newplayerperks.perk.keep-exp
  - just a string
  - id: void-teleport
    enabled: false
    permission: newplayerperks.perk.void-teleport
    params:
      min-y: -64
      destination: [0, 80.5, 0]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"fly", "void-teleport"}, ids(doc))
	require.Len(t, doc.Errors, 2)
	assert.ErrorIs(t, doc.Errors[0], ErrInvalidField)
	assert.Equal(t, "keep-exp", doc.Errors[0].ID)
	assert.Equal(t, 16, doc.Errors[0].Line)
	assert.ErrorIs(t, doc.Errors[1], ErrInvalidField)
	assert.Equal(t, 2, doc.Errors[1].Index)

	assert.Equal(t, language.MustParse("de-DE"), doc.Locale)
	assert.Equal(t, 36*time.Hour, doc.Period)
	assert.Equal(t, permission.PolicyAllow, doc.Permission.OnProviderError)
	assert.Equal(t, 250*time.Millisecond, doc.Permission.Timeout)
	assert.Equal(t, "<aqua>NPP</aqua> ", doc.Messages["prefix"])

	fly := entry(t, doc, "fly")
	assert.Equal(t, "<green>You can fly.</green>", fly.Messages["granted"])
	nodes, err := fly.Params.Strings("nodes", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"essentials.fly"}, nodes)

	vt := entry(t, doc, "void-teleport")
	assert.False(t, vt.Enabled)
	minY, err := vt.Params.Int("min-y", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-64), minY)
	dest, err := vt.Params.Floats("destination", nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 80.5, 0}, dest)
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	doc, err := Load(tomlSource(`config-version = "1.2.0"

[permission]
on-provider-error = "deny"

[[features]]
id = "fly"
enabled = true
permission = "a.fly"

[[features]]
id = "fly"
enabled = false
permission = "b.fly"
`))
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, permission.Node("a.fly"), doc.Entries[0].Permission)
	require.Len(t, doc.Errors, 1)
	assert.ErrorIs(t, doc.Errors[0], ErrDuplicateID)
}

func TestLoadEntryValidation(t *testing.T) {
	cases := map[string]struct {
		entry string
		field string
		want  error
	}{
		"missing id":         {entry: "enabled = true\npermission = \"a.b\"", field: "id", want: ErrMissingField},
		"upper case id":      {entry: "id = \"Fly\"\nenabled = true\npermission = \"a.b\"", field: "id", want: ErrInvalidField},
		"numeric id":         {entry: "id = 3\nenabled = true\npermission = \"a.b\"", field: "id", want: ErrInvalidField},
		"missing permission": {entry: "id = \"x\"\nenabled = true", field: "permission", want: ErrMissingField},
		"blank permission":   {entry: "id = \"x\"\nenabled = true\npermission = \" \"", field: "permission", want: ErrInvalidField},
		"spaced permission":  {entry: "id = \"x\"\nenabled = true\npermission = \"a b\"", field: "permission", want: ErrInvalidField},
		"bad messages":       {entry: "id = \"x\"\nenabled = true\npermission = \"a.b\"\nmessages = 3", field: "messages", want: ErrInvalidField},
		"bad kind":           {entry: "id = \"x\"\nkind = 1\nenabled = true\npermission = \"a.b\"", field: "kind", want: ErrInvalidField},
		"param twice":        {entry: "id = \"x\"\nenabled = true\npermission = \"a.b\"\nmin-y = 1\nparams = { min-y = 2 }", field: "min-y", want: ErrInvalidField},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			doc, err := Load(tomlSource("config-version = \"1.2.0\"\n[permission]\non-provider-error = \"deny\"\n\n[[features]]\n" + c.entry + "\n"))
			require.NoError(t, err)
			assert.Empty(t, doc.Entries)
			require.Len(t, doc.Errors, 1)
			if !errors.Is(doc.Errors[0], c.want) {
				t.Fatalf("Load() error = %v, want %v", doc.Errors[0], c.want)
			}
			assert.Equal(t, c.field, doc.Errors[0].Field)
		})
	}
}

func TestLoadFailures(t *testing.T) {
	cases := map[string]Source{
		"missing file":   FileSource(filepath.Join(t.TempDir(), "absent.toml")),
		"toml syntax":    tomlSource("config-version = \n[[features]"),
		"yaml syntax":    yamlSource("features: [\n"),
		"newer version":  tomlSource(`config-version = "1.3.0"`),
		"other major":    tomlSource(`config-version = "2.0.0.0"`),
		"not a version":  tomlSource(`config-version = "latest"`),
		"numeric":        tomlSource(`config-version = 1`),
		"no version":     tomlSource("[[features]]\nid = \"a\"\nenabled = true\npermission = \"a\"\n"),
		"features shape": tomlSource("config-version = \"1.2.0\"\nfeatures = \"none\"\n"),
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			doc, err := Load(src)
			assert.Nil(t, doc)
			var failure *LoadFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, src.Name(), failure.Source)
		})
	}

	_, err := Load(tomlSource(`config-version = "2.0.0"`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, keyVersion, cerr.Field)
}

func TestLoadPermissionPolicyDefaultsToDeny(t *testing.T) {
	doc, err := Load(tomlSource(`config-version = "1.2.0"`))
	require.NoError(t, err)
	assert.Equal(t, permission.PolicyDeny, doc.Permission.OnProviderError)
	assert.NotEmpty(t, doc.Warnings)
	require.Len(t, doc.Errors, 1, "the policy must be chosen explicitly")
	assert.Equal(t, -1, doc.Errors[0].Index)
	assert.ErrorIs(t, doc.Errors[0], ErrMissingField)

	doc, err = Load(tomlSource("config-version = \"1.2.0\"\n[permission]\non-provider-error = \"sometimes\"\n"))
	require.NoError(t, err)
	assert.Equal(t, permission.PolicyDeny, doc.Permission.OnProviderError)
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, -1, doc.Errors[0].Index)
	assert.ErrorIs(t, doc.Errors[0], ErrInvalidField)
}

func TestLoadDefaultsInvalidHeaderValues(t *testing.T) {
	doc, err := Load(tomlSource("config-version = \"1.0.0\"\nlocale = \"!!\"\nperiod = \"soon\"\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLocale, doc.Locale)
	assert.Equal(t, DefaultPeriod, doc.Period)
	assert.Len(t, doc.Warnings, 3)
}

func TestLoadMigratesLegacySettings(t *testing.T) {
	doc, err := Load(yamlSource(`locale: en-US
invulnerable: true
fly: false
keep-inventory: true
keep-exp: true
void-teleport: true
period: 6h
`))
	require.NoError(t, err)
	assert.True(t, doc.Legacy)
	assert.Empty(t, doc.Version)
	assert.Equal(t, []string{"invulnerable", "fly", "keep-inventory", "keep-exp", "void-teleport"}, ids(doc))
	fly := entry(t, doc, "fly")
	assert.False(t, fly.Enabled)
	assert.Equal(t, permission.Node("newplayerperks.perk.fly"), fly.Permission)
	assert.NotEmpty(t, doc.Warnings)
	assert.Empty(t, doc.Errors, "legacy documents predate the provider error policy")
}

func TestCheckVersion(t *testing.T) {
	accepted := map[string]string{
		"1.0.0":   "v1.0.0",
		"1.1.0.0": "v1.1.0+0",
		"1.2.0.0": "v1.2.0+0",
		"1.2.0.1": "v1.2.0+1",
		"v1.2":    "v1.2",
	}
	for in, want := range accepted {
		got, err := CheckVersion(in)
		if err != nil {
			t.Fatalf("CheckVersion(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("CheckVersion(%q) = %q, want %q", in, got, want)
		}
	}
	for _, in := range []string{"", "1.3.0", "2.0.0", "0.9.0", "1.2.0.0.0", "x"} {
		if _, err := CheckVersion(in); !errors.Is(err, ErrUnsupportedVersion) {
			t.Fatalf("CheckVersion(%q) error = %v, want %v", in, err, ErrUnsupportedVersion)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	valid := map[string]time.Duration{
		"6h":       6 * time.Hour,
		"1d12h":    36 * time.Hour,
		"2w":       14 * 24 * time.Hour,
		"1h 30m":   90 * time.Minute,
		"1.5h":     90 * time.Minute,
		"500ms":    500 * time.Millisecond,
		"1D":       24 * time.Hour,
		"3d4h5m6s": 3*24*time.Hour + 4*time.Hour + 5*time.Minute + 6*time.Second,
	}
	for in, want := range valid {
		got, err := ParsePeriod(in)
		if err != nil {
			t.Fatalf("ParsePeriod(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("ParsePeriod(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "6", "h", "6y", "0h", "6h-", "-6h"} {
		if _, err := ParsePeriod(in); err == nil {
			t.Fatalf("ParsePeriod(%q) error = nil, want error", in)
		}
	}
	for _, in := range []string{"300000w", "106751d 1d", "106751d106751d106751d"} {
		_, err := ParsePeriod(in)
		assert.ErrorContains(t, err, "too large", in)
	}
}

func TestParamsAccessors(t *testing.T) {
	p := Params{"n": int64(3), "f": 2.5, "s": "x", "b": true, "l": []any{"a", "b"}}
	n, err := p.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	_, err = p.Int("f", 0)
	assert.ErrorIs(t, err, ErrInvalidField)
	f, err := p.Float("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)
	d, err := p.String("missing", "def")
	require.NoError(t, err)
	assert.Equal(t, "def", d)
	_, err = p.Bool("s", false)
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = p.Floats("l", nil)
	assert.ErrorIs(t, err, ErrInvalidField)
	assert.Equal(t, []string{"b", "f", "l", "n", "s"}, p.Keys())
}
