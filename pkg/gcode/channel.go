// G-code communication channels
//
// A Channel manages the low-level interfacing with whatever is
// controlling this printer. Reads are non-blocking, so Tend must be
// called on a regular basis. Once Tend returns true, a command is
// available via GetCommand, and a reply can be sent via Reply.
//
// Communication is typically done over a serial interface, but a
// Channel accepts any reader/writer pair, so commands can come from
// stdin or be fed directly from a G-code file.
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"bufio"
	"io"
	"os"

	"deltapi/pkg/log"
)

var chanLog = log.New("gcode")

// Channel is one G-code command source plus its reply sink.
type Channel struct {
	name     string
	lines    chan string
	w        io.Writer
	closer   io.Closer
	pending  *Command
	dieOnEOF bool
	sawEOF   bool
}

const lineBacklog = 64

// NewChannel wraps a reader/writer pair. Set dieOnEOF when reading an
// actual fixed-length file instead of a stream: EOF then really means
// the end of commands and the channel reports IsAtEOF.
func NewChannel(name string, r io.Reader, w io.Writer, dieOnEOF bool) *Channel {
	c := &Channel{
		name:     name,
		lines:    make(chan string, lineBacklog),
		w:        w,
		dieOnEOF: dieOnEOF,
	}
	go c.pump(r)
	return c
}

// NewStdioChannel reads commands from stdin and replies on stdout.
func NewStdioChannel() *Channel {
	return NewChannel("stdio", os.Stdin, os.Stdout, false)
}

// NewFileChannel opens a G-code file as a dieOnEOF channel. Replies are
// discarded: a subprogram has no host to talk to.
func NewFileChannel(path string) (*Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapError(err, KindFilesystem, "open gcode file "+path)
	}
	c := NewChannel(path, f, nil, true)
	c.closer = f
	return c, nil
}

func (c *Channel) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		chanLog.Warn("channel %s read error: %v", c.name, err)
	}
	close(c.lines)
}

// Name identifies the channel in logs.
func (c *Channel) Name() string {
	return c.name
}

// Tend parses any available bytes and returns true iff a complete
// command is pending. Malformed lines are answered with an error:
// response directly and skipped.
func (c *Channel) Tend() bool {
	if c.pending != nil {
		return true
	}
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				c.sawEOF = true
				return false
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				ce, _ := err.(*CommandError)
				chanLog.Warn("channel %s: %v", c.name, err)
				c.write(ErrorResponse(ce))
				continue
			}
			if cmd.IsEmpty() {
				continue
			}
			c.pending = &cmd
			return true
		default:
			return false
		}
	}
}

// GetCommand returns the pending command. Sequential calls return the
// same command until Reply is called, at which point the next line will
// be parsed.
func (c *Channel) GetCommand() Command {
	if c.pending == nil {
		return Command{}
	}
	return *c.pending
}

// Reply sends a response for the pending command and advances the parser.
func (c *Channel) Reply(resp Response) {
	c.write(resp)
	c.pending = nil
}

func (c *Channel) write(resp Response) {
	if c.w == nil || resp.IsNull() {
		return
	}
	if _, err := io.WriteString(c.w, resp.String()+"\n"); err != nil {
		chanLog.Warn("channel %s write error: %v", c.name, err)
	}
}

// IsAtEOF reports whether a dieOnEOF channel has delivered its last
// command and should be popped from the source stack.
func (c *Channel) IsAtEOF() bool {
	if !c.dieOnEOF || c.pending != nil {
		return false
	}
	if !c.sawEOF {
		// The pump may have finished while lines are still buffered.
		return false
	}
	return len(c.lines) == 0
}

// Close releases any file handle owned by the channel.
func (c *Channel) Close() {
	if c.closer != nil {
		c.closer.Close()
		c.closer = nil
	}
}
