package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"modkit/pkg/bus"
)

func (c *cli) newEventsCommand() *cobra.Command {
	var (
		subject string
		durable string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail mod lifecycle events",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			if a.events == nil {
				return errors.New("MODKIT_NATS_URL is required to tail events")
			}
			sub, err := a.events.Subscribe(ctx, subject, durable, func(_ context.Context, subj string, data []byte) error {
				var ev bus.Event
				if err := json.Unmarshal(data, &ev); err != nil {
					a.logger.Warn().Err(err).Str("subject", subj).Msg("skip malformed event")
					return nil
				}
				printEvent(a.out, subj, ev)
				return nil
			})
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			defer sub.Close()
			<-ctx.Done()
			return nil
		}),
	}
	cmd.Flags().StringVar(&subject, "subject", bus.SubjectAll, "Subject filter")
	cmd.Flags().StringVar(&durable, "durable", "", "Durable consumer name, replays missed events")
	return cmd
}

func printEvent(out io.Writer, subject string, ev bus.Event) {
	stamp := ev.Time.Local().Format(time.Kitchen)
	kind := subject[strings.LastIndex(subject, ".")+1:]
	switch subject {
	case bus.SubjectProgress:
		fmt.Fprintf(out, "%s %s %-9s %s %s\n", stamp, ev.Mod, kind, ev.Label, humanize.FtoaWithDigits(ev.Progress*100, 1)+"%")
	case bus.SubjectFailed:
		fmt.Fprintf(out, "%s %s %-9s %s\n", stamp, ev.Mod, color.RedString(kind), ev.Message)
	default:
		fmt.Fprintf(out, "%s %s %-9s %s\n", stamp, ev.Mod, color.GreenString(kind), ev.Message)
	}
}
