package cli

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/spf13/viper"
)

// CommandConfig configures a command that runs against the stores.
type CommandConfig struct {
	// Viper holds the command's configuration.
	Viper *viper.Viper

	// Out receives rendered results. Nil means stdout.
	Out io.Writer

	// Timeout for the command operation. Zero means no timeout.
	Timeout time.Duration

	// Run is the command's business logic.
	Run func(ctx context.Context, rt *Runtime, out *Output) error
}

// RunCommand opens the runtime, applies the timeout, runs the command and
// closes everything it opened.
func RunCommand(ctx context.Context, cfg CommandConfig) error {
	if cfg.Viper == nil {
		return errors.New("viper required")
	}
	if cfg.Run == nil {
		return errors.New("run function required")
	}

	rt, err := Open(ctx, cfg.Viper)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	out := NewOutputFromViper(cfg.Viper)
	if cfg.Out != nil {
		out.w = cfg.Out
	}
	return cfg.Run(ctx, rt, out)
}
