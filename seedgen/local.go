package seedgen

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Local generators need no service: the seed is a random number and the
// players roll it themselves from the flags.
type Local struct {
	kind   string
	flags  string
	params Params
	deps   Deps
}

func newLocal(kind string, p Params, deps Deps) (*Local, error) {
	l := &Local{kind: kind, flags: p.Get("flags", ""), params: p, deps: deps}
	if kind != "aosr" && l.flags == "" {
		return nil, fmt.Errorf("%s generator requires flags", kind)
	}
	return l, nil
}

func (l *Local) Kind() string { return l.kind }

func (l *Local) Generate(_ context.Context, _ Request) (*Seed, error) {
	r := l.deps.rand()
	var s Seed
	switch l.kind {
	case "ffr":
		s.SeedID = fmt.Sprintf("%08x", r.Uint32())
		s.Permalink = fmt.Sprintf("https://4-2-0.finalfantasyrandomizer.com/?s=%s&f=%s", s.SeedID, l.flags)
	case "aosr":
		s.SeedID = strconv.FormatInt(r.Int64N(1<<31), 10)
		q := url.Values{"seed": {s.SeedID}}
		for _, k := range []string{"logic", "panther", "boss", "weight", "kicker", "levelexp"} {
			if v := l.params.Get(k, ""); v != "" {
				q.Set(k, v)
			}
		}
		s.Permalink = "https://aosrando.surge.sh/?" + q.Encode()
	case "z1r":
		s.SeedID = strconv.FormatInt(r.Int64N(9999999999999), 10)
		s.Permalink = fmt.Sprintf("Seed: %s - Flags: %s", s.SeedID, l.flags)
	case "smb3r":
		s.SeedID = strconv.FormatInt(r.Int64N(1<<31), 10)
		s.Permalink = fmt.Sprintf("Seed: %s - Flags: %s", s.SeedID, l.flags)
	default:
		return nil, fmt.Errorf("unsupported generator kind %q", l.kind)
	}
	s.GoalSuffix = " - " + s.Permalink
	return &s, nil
}
