package daemon

import (
	"bufio"
	"io"
)

// commander executes single-character operator commands.
type commander interface {
	ExecCommand(cmd byte)
}

// runConsole forwards every non-space byte read from r to c until r fails.
func runConsole(r io.Reader, c commander) {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		c.ExecCommand(b)
	}
}
