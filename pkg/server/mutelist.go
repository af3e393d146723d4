package server

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// MuteStore persists each session's muted-sender set, keyed by display name.
// Format is one "id:name" pair per line in mutelist_<name>.txt, no header,
// last writer wins. Saves replace the whole file via a temp file and rename
// so a crash mid-write never corrupts previously saved entries.
type MuteStore struct {
	dir string
}

func NewMuteStore(dir string) *MuteStore {
	return &MuteStore{dir: dir}
}

// Load reads the mute set for a display name. A missing file is an empty
// mute set, not an error.
func (m *MuteStore) Load(name string) (map[int64]string, error) {
	muted := make(map[int64]string)

	f, err := os.Open(m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return muted, nil
		}
		return muted, fmt.Errorf("open mute list for %q: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, target, ok := strings.Cut(line, ":")
		if !ok {
			log.Warnf("Skipping malformed mute list line for %q: %q", name, line)
			continue
		}
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			log.Warnf("Skipping malformed mute list id for %q: %q", name, line)
			continue
		}
		muted[parsed] = target
	}
	if err := scanner.Err(); err != nil {
		return muted, fmt.Errorf("read mute list for %q: %w", name, err)
	}
	return muted, nil
}

// Save writes the full mute set for a display name, replacing any previous
// contents.
func (m *MuteStore) Save(name string, muted map[int64]string) error {
	if m.dir != "" {
		if err := os.MkdirAll(m.dir, 0o755); err != nil {
			return fmt.Errorf("create mute list dir: %w", err)
		}
	}

	ids := make([]int64, 0, len(muted))
	for id := range muted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	path := m.path(name)
	tmp, err := os.CreateTemp(filepath.Dir(path), "mutelist-*.tmp")
	if err != nil {
		return fmt.Errorf("create mute list temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, id := range ids {
		fmt.Fprintf(w, "%d:%s\n", id, muted[id])
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write mute list for %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close mute list for %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace mute list for %q: %w", name, err)
	}
	return nil
}

func (m *MuteStore) path(name string) string {
	// Display names come from clients; keep path separators out of filenames.
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
	return filepath.Join(m.dir, fmt.Sprintf("mutelist_%s.txt", safe))
}
