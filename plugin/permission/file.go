package permission

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
)

// FileProvider is a Provider and Editor backed by a TOML file. The file holds
// nodes granted to every player and nodes granted to individual players keyed
// by UUID:
//
//	default = ["newplayerperks.perk.*"]
//
//	[players]
//	"5c7d1d4a-..." = ["essentials.fly"]
type FileProvider struct {
	mu       sync.RWMutex
	defaults []Node
	players  map[uuid.UUID][]Node
	filePath string
}

type grantsFile struct {
	Default []string            `toml:"default"`
	Players map[string][]string `toml:"players"`
}

// LoadFileProvider loads the grants stored in the file at path. If the file
// does not exist yet, it is created with no grants.
func LoadFileProvider(path string) (*FileProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("permission file path must not be empty")
	}
	p := &FileProvider{
		players:  make(map[uuid.UUID][]Node),
		filePath: path,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// HasPermission implements Provider.
func (p *FileProvider) HasPermission(ctx context.Context, actor uuid.UUID, node Node) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, granted := range p.defaults {
		if node.GrantedBy(granted) {
			return true, nil
		}
	}
	for _, granted := range p.players[actor] {
		if node.GrantedBy(granted) {
			return true, nil
		}
	}
	return false, nil
}

// Grant implements Editor. Granting a node the actor already holds is a no-op.
func (p *FileProvider) Grant(_ context.Context, actor uuid.UUID, node Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	original := p.players[actor]
	if slices.Contains(original, node) {
		return nil
	}
	p.players[actor] = append(slices.Clone(original), node)
	if err := p.writeLocked(); err != nil {
		p.restoreLocked(actor, original)
		return err
	}
	return nil
}

// Revoke implements Editor. Revoking a node the actor does not hold is a
// no-op.
func (p *FileProvider) Revoke(_ context.Context, actor uuid.UUID, node Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	original := p.players[actor]
	index := slices.Index(original, node)
	if index == -1 {
		return nil
	}
	p.players[actor] = slices.Delete(slices.Clone(original), index, index+1)
	if len(p.players[actor]) == 0 {
		delete(p.players, actor)
	}
	if err := p.writeLocked(); err != nil {
		p.restoreLocked(actor, original)
		return err
	}
	return nil
}

// Reload re-reads the grants file from disk.
func (p *FileProvider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloadLocked()
}

func (p *FileProvider) restoreLocked(actor uuid.UUID, nodes []Node) {
	if len(nodes) == 0 {
		delete(p.players, actor)
		return
	}
	p.players[actor] = nodes
}

func (p *FileProvider) reloadLocked() error {
	data := grantsFile{}
	contents, err := os.ReadFile(p.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.defaults, p.players = nil, make(map[uuid.UUID][]Node)
			return p.writeLocked()
		}
		return fmt.Errorf("read permissions: %w", err)
	}
	if len(contents) != 0 {
		if err := toml.Unmarshal(contents, &data); err != nil {
			return fmt.Errorf("decode permissions: %w", err)
		}
	}
	defaults, err := parseNodes(data.Default)
	if err != nil {
		return fmt.Errorf("decode permissions: default: %w", err)
	}
	players := make(map[uuid.UUID][]Node, len(data.Players))
	for key, raw := range data.Players {
		id, err := uuid.Parse(strings.TrimSpace(key))
		if err != nil {
			return fmt.Errorf("decode permissions: player %q: %w", key, err)
		}
		nodes, err := parseNodes(raw)
		if err != nil {
			return fmt.Errorf("decode permissions: player %s: %w", id, err)
		}
		if len(nodes) != 0 {
			players[id] = nodes
		}
	}
	p.defaults, p.players = defaults, players
	return nil
}

func (p *FileProvider) writeLocked() error {
	dir := filepath.Dir(p.filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return fmt.Errorf("create permissions directory: %w", err)
		}
	}
	data := grantsFile{
		Default: nodeStrings(p.defaults),
		Players: make(map[string][]string, len(p.players)),
	}
	for id, nodes := range p.players {
		data.Players[id.String()] = nodeStrings(nodes)
	}
	encoded, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	if err := os.WriteFile(p.filePath, encoded, 0644); err != nil {
		return fmt.Errorf("write permissions: %w", err)
	}
	return nil
}

func parseNodes(raw []string) ([]Node, error) {
	nodes := make([]Node, 0, len(raw))
	for _, s := range raw {
		n, err := ParseNode(s)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(nodes, n) {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func nodeStrings(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = string(n)
	}
	slices.Sort(out)
	return out
}

var (
	_ Provider = (*FileProvider)(nil)
	_ Editor   = (*FileProvider)(nil)
)
