// Package realtime carries notification pushes to connected clients over
// WebSocket using a small text-frame protocol: a command line, header
// lines, a blank line, then the body terminated by a NUL byte.
package realtime

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Client commands.
const (
	CmdConnect     = "CONNECT"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdDisconnect  = "DISCONNECT"
)

// Server commands.
const (
	CmdConnected = "CONNECTED"
	CmdMessage   = "MESSAGE"
	CmdError     = "ERROR"
)

var validCommands = map[string]bool{
	CmdConnect:     true,
	CmdSubscribe:   true,
	CmdUnsubscribe: true,
	CmdSend:        true,
	CmdDisconnect:  true,
	CmdConnected:   true,
	CmdMessage:     true,
	CmdError:       true,
}

// Frame is one protocol unit in either direction.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// Header returns the named header, or "" when absent.
func (f Frame) Header(name string) string {
	return f.Headers[name]
}

// Encode serializes the frame. Headers are written in sorted key order so
// encoding is deterministic.
func (f Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(f.Headers[k])
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Decode parses a single frame. The first occurrence of a repeated header
// wins.
func Decode(raw []byte) (Frame, error) {
	raw = bytes.TrimSuffix(raw, []byte{0})
	head, body, found := bytes.Cut(raw, []byte("\n\n"))
	if !found {
		return Frame{}, fmt.Errorf("malformed frame: missing header terminator")
	}
	lines := strings.Split(string(head), "\n")
	cmd := strings.TrimSuffix(lines[0], "\r")
	if !validCommands[cmd] {
		return Frame{}, fmt.Errorf("unknown command %q", cmd)
	}
	f := Frame{Command: cmd, Headers: make(map[string]string)}
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, fmt.Errorf("malformed header line %q", line)
		}
		if _, dup := f.Headers[key]; !dup {
			f.Headers[key] = value
		}
	}
	f.Body = append([]byte(nil), body...)
	return f, nil
}

func errorFrame(message, detail string) Frame {
	return Frame{
		Command: CmdError,
		Headers: map[string]string{"message": message},
		Body:    []byte(detail),
	}
}
