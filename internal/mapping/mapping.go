// Package mapping resolves hosting-platform identities to developers and teams.
package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Mappings holds the three lookup indexes. It is read-only after Load.
type Mappings struct {
	users      map[string]string
	developers map[string]string
	teams      map[string]string
}

type file struct {
	UserIndex      map[string]string `json:"user_index"`
	DeveloperIndex map[string]string `json:"developer_index"`
	TeamIndex      map[string]string `json:"team_index"`
}

// Load reads the mapping file at path. A missing or empty file yields empty indexes;
// malformed JSON is an error.
func Load(path string) (*Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(nil, nil, nil), nil
		}
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	if len(data) == 0 {
		return New(nil, nil, nil), nil
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mapping file %s: %w", path, err)
	}
	return New(f.UserIndex, f.DeveloperIndex, f.TeamIndex), nil
}

// New builds Mappings from in-memory indexes. Nil maps are treated as empty.
func New(users, developers, teams map[string]string) *Mappings {
	return &Mappings{
		users:      orEmpty(users),
		developers: orEmpty(developers),
		teams:      orEmpty(teams),
	}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// FindUser maps a platform user id to a developer name, or returns def.
func (m *Mappings) FindUser(id, def string) string {
	return find(m.users, id, def)
}

// FindDeveloper maps a "name#email" commit identity to a developer name, or returns def.
func (m *Mappings) FindDeveloper(alias, def string) string {
	return find(m.developers, alias, def)
}

// FindTeam maps a developer name to a team name, or returns def.
func (m *Mappings) FindTeam(name, def string) string {
	return find(m.teams, name, def)
}

func find(index map[string]string, key, def string) string {
	if v, ok := index[key]; ok {
		return v
	}
	return def
}
