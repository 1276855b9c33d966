package matcher

import (
	"sort"
	"strings"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// Directory is an in-memory IdentityResolver over a snapshot of parties.
// Email matches take precedence over name matches.
type Directory struct {
	byEmail map[string][]string
	byName  map[string][]string
}

// NewDirectory indexes parties by normalized email and name.
func NewDirectory(parties []model.Party) *Directory {
	d := &Directory{
		byEmail: make(map[string][]string),
		byName:  make(map[string][]string),
	}
	for _, p := range parties {
		if email := normalizeEmail(p.Email); email != "" {
			d.byEmail[email] = appendUnique(d.byEmail[email], p.ID)
		}
		if name := normalizeName(p.Name); name != "" {
			d.byName[name] = appendUnique(d.byName[name], p.ID)
		}
	}
	return d
}

// Resolve returns the party ids matching email, or name when email is
// unknown. Ids are sorted.
func (d *Directory) Resolve(name, email string) []string {
	if ids := d.byEmail[normalizeEmail(email)]; len(ids) > 0 {
		return sorted(ids)
	}
	return sorted(d.byName[normalizeName(name)])
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func sorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
