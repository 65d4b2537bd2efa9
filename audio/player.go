// Package audio plays donation sound cues one at a time through an external
// player command (ffplay, mpv, afplay...).
package audio

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner executes the player for one file; replaced in tests.
type Runner func(ctx context.Context, argv []string) error

func execRunner(ctx context.Context, argv []string) error {
	//nolint:gosec // G204: player command comes from operator configuration
	return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
}

// Player queues sound references and plays them sequentially.
type Player struct {
	command []string
	timeout time.Duration
	run     Runner
	queue   chan string
}

// NewPlayer builds a player from a command line such as "ffplay -nodisp -autoexit".
// The sound file is appended as the last argument. An empty command disables playback.
func NewPlayer(command string, run Runner) *Player {
	if run == nil {
		run = execRunner
	}
	return &Player{
		command: strings.Fields(command),
		timeout: 2 * time.Minute,
		run:     run,
		queue:   make(chan string, 64),
	}
}

// Play enqueues ref. When the backlog is full the cue is skipped with a warning.
func (p *Player) Play(ref string) {
	if len(p.command) == 0 || ref == "" {
		return
	}
	select {
	case p.queue <- ref:
	default:
		slog.Warn("sound queue full; skipping cue", slog.String("sound", ref), slog.String("component", "audio"))
	}
}

// Run plays queued sounds until ctx is canceled.
func (p *Player) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-p.queue:
			playCtx, cancel := context.WithTimeout(ctx, p.timeout)
			argv := append(append([]string(nil), p.command...), ref)
			if err := p.run(playCtx, argv); err != nil {
				slog.Error("could not play sound", slog.String("sound", ref), slog.Any("err", err), slog.String("component", "audio"))
			}
			cancel()
		}
	}
}
