// Package botlist holds the case-insensitive username deny-list applied
// before classification.
package botlist

import (
	"bufio"
	"bytes"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// DefaultBots are the well-known chat bots filtered on every platform.
var DefaultBots = []string{
	"nightbot", "streamelements", "streamlabs", "moobot", "fossabot", "wizebot",
	"botrixoficial", "kickbot", "sery_bot", "soundalerts", "commanderroot",
	"streamstickers", "pokemoncommunitygame", "kofistreambot", "tangiabot",
	"own3d", "blerp", "lumiastream", "creatisbot", "botisimo",
}

// List is safe for concurrent use by every connector sharing it.
type List struct {
	mu     sync.RWMutex
	static map[string]struct{}
	file   map[string]struct{}
	path   string
}

// New seeds the list with DefaultBots plus extra names.
func New(extra ...string) *List {
	l := &List{static: make(map[string]struct{}), file: make(map[string]struct{})}
	for _, name := range DefaultBots {
		l.static[normalize(name)] = struct{}{}
	}
	l.Add(extra...)
	return l
}

// Empty returns a list with no entries.
func Empty() *List {
	return &List{static: make(map[string]struct{}), file: make(map[string]struct{})}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (l *List) Add(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range names {
		if n := normalize(name); n != "" {
			l.static[n] = struct{}{}
		}
	}
}

// IsBot reports whether username is denied. A nil list denies nothing.
func (l *List) IsBot(username string) bool {
	if l == nil {
		return false
	}
	n := normalize(username)
	if n == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.static[n]; ok {
		return true
	}
	_, ok := l.file[n]
	return ok
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.static)
	for name := range l.file {
		if _, dup := l.static[name]; !dup {
			n++
		}
	}
	return n
}

// Names returns every denied username, sorted.
func (l *List) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]struct{}, len(l.static)+len(l.file))
	for n := range l.static {
		seen[n] = struct{}{}
	}
	for n := range l.file {
		seen[n] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// LoadFile replaces the file-backed entries with the names in path, one per
// line. Blank lines and lines starting with # are skipped.
func (l *List) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "read bot list")
	}
	names := parse(data)
	l.mu.Lock()
	l.path = path
	l.file = names
	l.mu.Unlock()
	return len(names), nil
}

// Reload re-reads the file last passed to LoadFile.
func (l *List) Reload() (int, error) {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()
	if path == "" {
		return 0, nil
	}
	return l.LoadFile(path)
}

func parse(data []byte) map[string]struct{} {
	out := make(map[string]struct{})
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			if n := normalize(field); n != "" {
				out[n] = struct{}{}
			}
		}
	}
	return out
}
