package resolver

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/go-faster/errors"
)

// ErrDeclined signals the operator answered no to a creation prompt. It is
// a clean abort: the run stops without mutation and exits zero.
var ErrDeclined = errors.New("declined by operator")

// Confirmer gates entity creation on operator approval.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// AutoConfirm approves everything; used by the auto-confirm flag and by
// dry runs (which never reach the mutation anyway).
type AutoConfirm struct{}

func (AutoConfirm) Confirm(string) (bool, error) { return true, nil }

// TerminalConfirm asks on the terminal and reads a y/n answer.
type TerminalConfirm struct {
	In  io.Reader
	Out io.Writer
}

func (c *TerminalConfirm) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(c.Out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
