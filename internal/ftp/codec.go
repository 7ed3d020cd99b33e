package ftp

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// endOfLine terminates every command and reply line.
const endOfLine = "\r\n"

// codec converts control connection lines between the wire encoding and Go
// strings.
type codec struct {
	name string
	enc  encoding.Encoding
}

func newCodec(name string) (*codec, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("ftp: unsupported encoding %q: %w", name, err)
	}
	return &codec{name: name, enc: enc}, nil
}

func (c *codec) decode(b []byte) (string, error) {
	return c.enc.NewDecoder().String(string(b))
}

func (c *codec) encode(s string) ([]byte, error) {
	out, err := c.enc.NewEncoder().String(s)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// parseCommand splits a decoded line into a lower-cased command and the
// argument after the first space. Trailing whitespace is dropped.
func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimRight(line, " \t\r\n")
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), arg
}

// censoredCommands have their argument masked in logs.
var censoredCommands = map[string]bool{"pass": true}

func logArgument(cmd, arg string) string {
	if censoredCommands[cmd] {
		return strings.Repeat("*", len(arg))
	}
	return arg
}
