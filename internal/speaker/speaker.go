// Package speaker defines the two recording roles.
package speaker

import (
	"fmt"
	"strings"

	"github.com/zulandar/cohost/internal/apperr"
)

// Speaker is a canonical track/transcript role.
type Speaker string

const (
	Human Speaker = "human"
	AI    Speaker = "ai"
)

// legacyAliases maps the old persona names onto canonical roles.
var legacyAliases = map[string]Speaker{
	"mikkel": Human,
	"freja":  AI,
}

// All returns the canonical speakers in track allocation order.
func All() []Speaker {
	return []Speaker{Human, AI}
}

// Valid reports whether s is a canonical speaker.
func (s Speaker) Valid() bool {
	return s == Human || s == AI
}

func (s Speaker) String() string {
	return string(s)
}

// Parse normalizes raw input, accepting legacy aliases, into a canonical
// speaker. Only adapters (HTTP, CLI, migration) should call this; the core
// rejects anything that is not already canonical.
func Parse(raw string) (Speaker, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if s := Speaker(v); s.Valid() {
		return s, nil
	}
	if s, ok := legacyAliases[v]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q (want human or ai)", apperr.ErrInvalidSpeaker, raw)
}

// LegacyAliases returns alias → canonical pairs for one-time migrations.
func LegacyAliases() map[string]Speaker {
	out := make(map[string]Speaker, len(legacyAliases))
	for k, v := range legacyAliases {
		out[k] = v
	}
	return out
}
