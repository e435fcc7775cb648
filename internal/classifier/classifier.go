// Package classifier implements the protocol allow-list deep-packet
// inspection gate: a payload is admitted if it matches any protocol tag on
// the configured allow-list.
package classifier

import "github.com/pkg/errors"

// Tag identifies one recognized wire protocol prefix rule.
type Tag string

const (
	Any     Tag = "any"
	Modbus  Tag = "modbus"
	DNP3    Tag = "dnp3"
	MQTT    Tag = "mqtt"
	SNMP    Tag = "snmp"
)

// ErrUnknownTag is returned by New when the allow-list names a
// tag this build does not recognize; config load must fail fast on it.
var ErrUnknownTag = errors.New("classifier: unknown protocol tag")

func validTag(t Tag) bool {
	switch t {
	case Any, Modbus, DNP3, MQTT, SNMP:
		return true
	}
	return false
}

// Classifier holds an immutable allow-list built at config load time.
type Classifier struct {
	allow map[Tag]bool
}

// New validates tags and builds a Classifier. An empty allow-list is legal
// and denies everything.
func New(tags []Tag) (*Classifier, error) {
	allow := make(map[Tag]bool, len(tags))
	for _, t := range tags {
		if !validTag(t) {
			return nil, errors.Wrapf(ErrUnknownTag, "%q", t)
		}
		allow[t] = true
	}
	return &Classifier{allow: allow}, nil
}

// Admitted reports whether payload matches any allow-listed tag.
func (c *Classifier) Admitted(payload []byte) bool {
	if c.allow[Any] {
		return true
	}
	for tag := range c.allow {
		if matches(tag, payload) {
			return true
		}
	}
	return false
}

func matches(tag Tag, p []byte) bool {
	switch tag {
	case Modbus:
		return len(p) >= 7 && p[2] == 0x00 && p[3] == 0x00
	case DNP3:
		return len(p) >= 2 && p[0] == 0x05 && p[1] == 0x64
	case MQTT:
		if len(p) < 1 {
			return false
		}
		hi := p[0] >> 4
		return hi >= 1 && hi <= 14
	case SNMP:
		return len(p) >= 3 && p[0] == 0x30 && p[2] == 0x02
	default:
		return false
	}
}
