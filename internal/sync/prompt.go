package sync

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the user to confirm a risky action
type Prompter interface {
	Confirm(question string) (bool, error)
}

// TerminalPrompter asks on an interactive terminal
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prints question and reads a yes/no answer. Anything but y/yes is a no.
func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	if _, err := fmt.Fprintf(p.Out, "%s [y/N] ", question); err != nil {
		return false, err
	}
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
