package seeding

import (
	"bufio"
	"io"
	"net"
	"time"
)

// Seed lines longer than this are cut off and will fail to parse
const maxSeedLine = 64

// ConnSeed reads the seed line from a TCP connection, giving up after
// timeout so a silent client can't pin a goroutine forever.
type ConnSeed struct {
	Conn    net.Conn
	Timeout time.Duration
}

func (c *ConnSeed) SeedLine() (string, error) {
	if c.Timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
			return "", err
		}
		defer func() { _ = c.Conn.SetReadDeadline(time.Time{}) }()
	}

	return ReadSeedLine(c.Conn)
}

// ReadSeedLine reads up to the first newline. Bytes past the line are never
// needed: after the seed the client only reads.
func ReadSeedLine(r io.Reader) (string, error) {
	reader := bufio.NewReaderSize(io.LimitReader(r, maxSeedLine), maxSeedLine)
	line, err := reader.ReadString('\n')
	if err == io.EOF && len(line) > 0 {
		// Limit reached or the client closed without a trailing newline
		return line, nil
	}
	return line, err
}

// StaticSeed is a seed line that is already known, e.g. from a query string
type StaticSeed string

func (s StaticSeed) SeedLine() (string, error) {
	return string(s), nil
}
