package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"user_index": {"1001": "alice"},
		"developer_index": {"Alice#alice@example.com": "alice"},
		"team_index": {"alice": "Platform"}
	}`), 0o600))

	m, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", m.FindUser("1001", ""))
	assert.Equal(t, "alice", m.FindDeveloper("Alice#alice@example.com", ""))
	assert.Equal(t, "Platform", m.FindTeam("alice", ""))
	assert.Equal(t, "Unknown", m.FindUser("2002", "Unknown"))
}

func TestLoad_MissingOrPartial(t *testing.T) {
	testCases := []struct {
		name string
		body *string
	}{
		{name: "missing file"},
		{name: "empty file", body: ptr("")},
		{name: "empty object", body: ptr("{}")},
		{name: "only one index", body: ptr(`{"team_index": {"bob": "Core"}}`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mappings.json")
			if tc.body != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tc.body), 0o600))
			}

			m, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "default", m.FindUser("1", "default"))
			assert.Equal(t, "default", m.FindDeveloper("a#b", "default"))
			assert.Equal(t, "", m.FindUser("1", ""))
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"user_index": [`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse mapping file")
}

func TestEmptyMappingsReturnDefault(t *testing.T) {
	m := New(nil, nil, nil)
	for _, def := range []string{"", "Unknown", "Team Unknown"} {
		assert.Equal(t, def, m.FindUser("x", def))
		assert.Equal(t, def, m.FindDeveloper("x", def))
		assert.Equal(t, def, m.FindTeam("x", def))
	}
}

func ptr(s string) *string {
	return &s
}
