package mqtt

import (
	"fmt"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "knxlog"

// Topics builds knxlog MQTT topics under a common prefix.
//
//	topics := mqtt.Topics{Prefix: "knxlog"}
//	topics.State(ga) // "knxlog/state/5/0/2"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State returns the retained state topic of a group address.
//
// Example: knxlog/state/5/0/2
func (t Topics) State(ga knx.GroupAddress) string {
	return fmt.Sprintf("%s/state/%d/%d/%d", t.prefix(), ga.Main, ga.Middle, ga.Sub)
}

// SystemStatus returns the online/offline status topic (also the LWT topic).
//
// Example: knxlog/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
