package tunnel

import (
	"regexp"
	"strconv"
)

const boreRelay = "bore.pub"

// boreAddr matches the relay endpoint bore prints once connected, e.g.
// "listening at bore.pub:34567".
var boreAddr = regexp.MustCompile(`bore\.pub:\d+`)

// Bore forwards the local port over the public bore.pub relay. The relay
// speaks plain TCP, so peers reach the share over http, not https.
type Bore struct{}

func (Bore) Name() string { return "bore" }

func (Bore) Binary() string { return "bore" }

func (Bore) Args(port int) []string {
	return []string{"local", strconv.Itoa(port), "--to", boreRelay}
}

func (Bore) PublicAddr(line string) (string, bool) {
	if m := boreAddr.FindString(line); m != "" {
		return "http://" + m, true
	}
	return "", false
}
