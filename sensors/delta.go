package sensors

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// BuildDelta appends a `,"name":value` fragment to buf for every sensor whose
// current value differs from the last reported one, and marks those values
// reported. The fragments always start with a comma; the caller owns the
// surrounding object.
func (r *Registry) BuildDelta(buf *bytes.Buffer) []Change {
	var changes []Change
	for d := range r.active() {
		if c, ok := d.commit(); ok {
			changes = append(changes, c)
		}
	}
	buf.Write(AppendDelta(buf.AvailableBuffer(), changes))
	return changes
}

// AppendDelta appends the fragments for changes to dst.
func AppendDelta(dst []byte, changes []Change) []byte {
	for _, c := range changes {
		dst = append(dst, ',')
		dst = appendString(dst, c.Name)
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, int64(c.Value), 10)
	}
	return dst
}

func appendString(dst []byte, s string) []byte {
	// Marshaling a string cannot fail.
	b, _ := json.Marshal(s)
	return append(dst, b...)
}
