// Package routing maps order providers to operator channels and dispatches
// approved order actions to them, escalating anything it cannot place to the
// support channel.
package routing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider is one directory entry: a provider domain and the channel its
// operators read.
type Provider struct {
	Domain string `json:"domain" yaml:"domain"`
	ID     string `json:"id" yaml:"id"`
}

// Directory resolves provider domains to channels. It is immutable after
// construction.
type Directory struct {
	channels map[string]string
	operator map[string]struct{}
	support  string
}

// NewDirectory builds a Directory. Entries without a domain or id are skipped.
func NewDirectory(entries []Provider, supportChannel string) *Directory {
	d := &Directory{
		channels: make(map[string]string, len(entries)),
		operator: make(map[string]struct{}, len(entries)+1),
		support:  strings.TrimSpace(supportChannel),
	}
	for _, e := range entries {
		dom, id := providerKey(e.Domain), strings.TrimSpace(e.ID)
		if dom == "" || id == "" {
			continue
		}
		d.channels[dom] = id
		d.operator[id] = struct{}{}
	}
	if d.support != "" {
		d.operator[d.support] = struct{}{}
	}
	return d
}

// ParseDirectory reads a YAML or JSON list of providers.
func ParseDirectory(data []byte, supportChannel string) (*Directory, error) {
	var entries []Provider
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("routing: parse directory: %w", err)
	}
	return NewDirectory(entries, supportChannel), nil
}

// LoadDirectory reads the directory file at path. An empty path yields a
// directory that escalates every provider to support.
func LoadDirectory(path, supportChannel string) (*Directory, error) {
	if strings.TrimSpace(path) == "" {
		return NewDirectory(nil, supportChannel), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("routing: directory %s does not exist", path)
		}
		return nil, fmt.Errorf("routing: read directory: %w", err)
	}
	return ParseDirectory(data, supportChannel)
}

// Resolve returns the provider's channel, or the support channel when the
// provider is unknown.
func (d *Directory) Resolve(provider string) string {
	if ch, ok := d.channels[providerKey(provider)]; ok {
		return ch
	}
	return d.support
}

// Support returns the escalation channel.
func (d *Directory) Support() string { return d.support }

// IsOperatorChannel reports whether id is a provider channel or the support
// channel. Messages from those are never treated as customer conversations.
func (d *Directory) IsOperatorChannel(id string) bool {
	_, ok := d.operator[strings.TrimSpace(id)]
	return ok
}

// Len returns the number of known providers.
func (d *Directory) Len() int { return len(d.channels) }

func providerKey(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
