package cloud

import "fmt"

// Topics builds the topics of one device.
type Topics struct {
	Thing string
	// Update overrides the shadow update topic.
	Update string
}

// ShadowUpdate is where reported state goes.
//
// Example: $aws/things/sensorhub/shadow/update
func (t Topics) ShadowUpdate() string {
	if t.Update != "" {
		return t.Update
	}
	if t.Thing == "" {
		return ""
	}
	return fmt.Sprintf("$aws/things/%s/shadow/update", t.Thing)
}

// Status carries the retained online/offline flag.
//
// Example: sensorhub/sensorhub/status
func (t Topics) Status() string {
	return fmt.Sprintf("sensorhub/%s/status", t.Thing)
}
