package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"nrich-session-guard/internal/platform/logging"
)

const (
	displacedTitle   = "Session Terminated"
	displacedMessage = "Your account has been accessed from another device. For security reasons, you have been automatically logged out from this device. If this wasn't you, please secure your account immediately."
)

// AutoPrompter acknowledges every notice immediately.
type AutoPrompter struct {
	Logger logging.Leveled
}

func (p AutoPrompter) ConfirmDisplaced(context.Context) error {
	logging.OrNop(p.Logger).Warn("%s: %s", displacedTitle, displacedMessage)
	return nil
}

// ConsolePrompter prints the notice and waits for a line on In.
type ConsolePrompter struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan struct{}
}

func (p *ConsolePrompter) ConfirmDisplaced(ctx context.Context) error {
	p.once.Do(func() {
		p.lines = make(chan struct{})
		go p.scan()
	})
	if p.Out != nil {
		fmt.Fprintf(p.Out, "\n%s\n%s\nPress Enter to continue.\n", displacedTitle, displacedMessage)
	}
	select {
	case _, ok := <-p.lines:
		if !ok {
			return io.EOF
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ConsolePrompter) scan() {
	defer close(p.lines)
	sc := bufio.NewScanner(p.In)
	for sc.Scan() {
		p.lines <- struct{}{}
	}
}
