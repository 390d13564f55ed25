// Package console implements the administrator commands of the perks plugin,
// read line by line from an io.Reader such as the server's standard input.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/newplayerperks/npp/plugin/lifecycle"
	"github.com/newplayerperks/npp/plugin/message"
	"github.com/newplayerperks/npp/plugin/perk"
)

// Config holds the collaborators of a Console.
type Config struct {
	Controller *lifecycle.Controller[perk.Perk]
	Service    *perk.Service
	Host       perk.Host
	// Reload is called by the reload command. If nil, Controller.Reload is
	// used.
	Reload func(ctx context.Context) (lifecycle.Report, error)
	// Stop is called by the stop command. It may be nil.
	Stop func()
	Log  *slog.Logger
}

// Console reads commands from an io.Reader (defaulting to os.Stdin) and logs
// their output.
type Console struct {
	conf   Config
	log    *slog.Logger
	reader io.Reader
}

// New returns a Console reading from os.Stdin.
func New(conf Config) *Console {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Reload == nil {
		conf.Reload = conf.Controller.Reload
	}
	return &Console{conf: conf, log: conf.Log.With("subsystem", "console"), reader: os.Stdin}
}

// WithReader sets a custom reader for the console input.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

// Run consumes commands until ctx is cancelled or the reader reaches EOF.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("Console input error.", "error", err)
			}
			return
		}
		line := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "/")
		if line == "" {
			continue
		}
		c.Execute(ctx, line)
	}
}

type command struct {
	usage string
	help  string
	run   func(c *Console, ctx context.Context, args []string) error
}

// commands is filled in by init, as several commands refer back to it.
var commands map[string]command

func init() {
	commands = map[string]command{
		"reload":   {"reload", "Reload the feature configuration.", (*Console).reload},
		"features": {"features", "List the active features.", (*Console).features},
		"status":   {"status", "Show the lifecycle state.", (*Console).status},
		"add":      {"add <player>", "Restart the perks period of a player.", (*Console).add},
		"remove":   {"remove <player>", "Expire the perks of a player.", (*Console).remove},
		"enable":   {"enable <player>", "Turn the perks of an online player on.", (*Console).enable},
		"disable":  {"disable <player>", "Turn the perks of an online player off.", (*Console).disable},
		"check":    {"check <player> <feature> [action]", "Check if a player may use a feature.", (*Console).check},
		"help":     {"help", "List the commands.", (*Console).help},
		"stop":     {"stop", "Stop the plugin.", (*Console).stop},
	}
}

// Execute runs a single command line. The optional "npp" prefix of the in-game
// command is accepted.
func (c *Console) Execute(ctx context.Context, line string) {
	args := strings.Fields(line)
	if len(args) > 0 && strings.EqualFold(args[0], "npp") {
		args = args[1:]
	}
	if len(args) == 0 {
		args = []string{"help"}
	}
	cmd, ok := commands[strings.ToLower(args[0])]
	if !ok {
		c.log.Error(fmt.Sprintf("Unknown command %q. Run help for a list of commands.", args[0]))
		return
	}
	if err := cmd.run(c, ctx, args[1:]); err != nil {
		c.log.Error(err.Error())
	}
}

func (c *Console) output(s string) {
	for _, line := range strings.Split(s, "\n") {
		c.log.Info(line)
	}
}

func (c *Console) reload(ctx context.Context, _ []string) error {
	report, err := c.conf.Reload(ctx)
	c.output(report.Summary())
	if err == nil {
		c.output(c.conf.Service.Message(perk.MessageReload, nil).Plain())
	}
	return nil
}

func (c *Console) features(context.Context, []string) error {
	snap := c.conf.Controller.Snapshot()
	if snap.Len() == 0 {
		c.output("No features are active.")
		return nil
	}
	for inst := range snap.All() {
		state := "enabled"
		if !inst.Enabled() {
			state = "disabled"
		}
		c.output(fmt.Sprintf("%s (%s, %s): %s [%016x]", inst.ID(), inst.Kind(), state, inst.PermissionNode(), inst.Fingerprint()))
	}
	return nil
}

func (c *Console) status(context.Context, []string) error {
	snap := c.conf.Controller.Snapshot()
	c.output(fmt.Sprintf("State: %s, generation %d from %s, %d feature(s), period %s, %d player(s) tracked.",
		c.conf.Controller.State(), snap.Generation(), snap.Source(), snap.Len(), snap.Period(), c.conf.Service.Sessions()))
	if gate := snap.Gate(); gate != nil {
		timeout := "no timeout"
		if gate.Timeout() > 0 {
			timeout = "timeout " + gate.Timeout().String()
		}
		c.output(fmt.Sprintf("Permission provider errors: %s, %s.", gate.Policy(), timeout))
	}
	total, active, err := c.conf.Service.Records()
	if err != nil {
		return fmt.Errorf("count player data: %w", err)
	}
	c.output(fmt.Sprintf("Player data: %d record(s), %d with active perks.", total, active))
	return nil
}

func (c *Console) add(ctx context.Context, args []string) error {
	return c.playerOp(ctx, args, "add", c.conf.Service.Add, perk.MessageAddedPerks)
}

func (c *Console) remove(ctx context.Context, args []string) error {
	return c.playerOp(ctx, args, "remove", c.conf.Service.Remove, perk.MessageRemovedPerks)
}

func (c *Console) enable(ctx context.Context, args []string) error {
	return c.playerOp(ctx, args, "enable", c.conf.Service.Enable, "")
}

func (c *Console) disable(ctx context.Context, args []string) error {
	return c.playerOp(ctx, args, "disable", c.conf.Service.Disable, "")
}

func (c *Console) playerOp(ctx context.Context, args []string, name string, op func(context.Context, uuid.UUID) perk.Result, success string) error {
	if len(args) != 1 {
		return usageError(name)
	}
	id, display, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	switch res := op(ctx, id); res {
	case perk.ResultSuccess:
		if success != "" {
			c.output(c.conf.Service.Message(success, message.Vars{"player_name": display}).Plain())
		} else {
			c.output(fmt.Sprintf("Perks of %s %sd.", display, name))
		}
	case perk.ResultNoPlayerData:
		c.output(c.conf.Service.Message(perk.MessagePlayerDataError, nil).Plain())
	case perk.ResultSettingsError:
		c.output(c.conf.Service.Message(perk.MessageSettingsError, nil).Plain())
	case perk.ResultExpired:
		c.output(c.conf.Service.Message(perk.MessageExpiredError, nil).Plain())
	default:
		return fmt.Errorf("%s %s: %s", name, display, res)
	}
	return nil
}

func (c *Console) check(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usageError("check")
	}
	id, display, err := c.resolve(args[0])
	if err != nil {
		return err
	}
	action := ""
	if len(args) == 3 {
		action = args[2]
	}
	if c.conf.Controller.Authorize(ctx, id, args[1], action) {
		c.output(fmt.Sprintf("%s may use %s.", display, args[1]))
	} else {
		c.output(fmt.Sprintf("%s may not use %s.", display, args[1]))
	}
	return nil
}

func (c *Console) help(context.Context, []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c.output(fmt.Sprintf("%-36s %s", commands[name].usage, commands[name].help))
	}
	return nil
}

func (c *Console) stop(context.Context, []string) error {
	if c.conf.Stop == nil {
		return errors.New("stop is not available")
	}
	c.output("Stopping...")
	c.conf.Stop()
	return nil
}

// resolve finds a player by name among online players, or parses a UUID.
func (c *Console) resolve(arg string) (uuid.UUID, string, error) {
	for p := range c.conf.Host.Players() {
		if strings.EqualFold(p.Name(), arg) {
			return p.UUID(), p.Name(), nil
		}
	}
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("player %q is not online and is not a UUID", arg)
	}
	return id, id.String(), nil
}

func usageError(name string) error {
	return fmt.Errorf("usage: %s", commands[name].usage)
}
