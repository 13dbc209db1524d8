package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"mqttview/internal/broker"
	"mqttview/internal/filter"
	"mqttview/internal/message"
)

const watchBuffer = 256

type WatchCmd struct {
	flags *Flags

	topics        []string
	qos           int
	hide          []string
	search        string
	regex         bool
	caseSensitive bool
}

func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "watch",
		Usage: "subscribe to topics and print incoming messages",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "topic filter to subscribe to",
				Value:       []string{"#"},
				Destination: &cmd.topics,
			},
			&cli.IntFlag{
				Name:        "qos",
				Aliases:     []string{"q"},
				Usage:       "subscription QoS (0-2)",
				Destination: &cmd.qos,
			},
			&cli.StringSliceFlag{
				Name:        "hide",
				Usage:       "subscribed topic whose messages are stored but not printed",
				Destination: &cmd.hide,
			},
			&cli.StringFlag{
				Name:        "search",
				Aliases:     []string{"s"},
				Usage:       "only print messages whose payload matches",
				Destination: &cmd.search,
			},
			&cli.BoolFlag{
				Name:        "regex",
				Usage:       "treat --search as a regular expression matching the whole payload",
				Destination: &cmd.regex,
			},
			&cli.BoolFlag{
				Name:        "case-sensitive",
				Usage:       "match --search case sensitively",
				Destination: &cmd.caseSensitive,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.qos < 0 || cmd.qos > 2 {
		return fmt.Errorf("%w: %d", filter.ErrInvalidQoS, cmd.qos)
	}

	rt, err := startRuntime(cmd.flags)
	if err != nil {
		return err
	}
	defer rt.close()

	sess := rt.session
	for _, topic := range cmd.topics {
		if err := sess.Subscribe(topic, byte(cmd.qos)); err != nil {
			return fmt.Errorf("invalid topic %q: %w", topic, err)
		}
	}
	for _, topic := range cmd.hide {
		if err := sess.SetTopicVisible(topic, false); err != nil {
			return fmt.Errorf("cannot hide %q: %w", topic, err)
		}
	}
	if cmd.search != "" {
		err := sess.SetSearch(filter.Search{
			Text:          cmd.search,
			Regex:         cmd.regex,
			CaseSensitive: cmd.caseSensitive,
		})
		if err != nil {
			return fmt.Errorf("invalid search: %w", err)
		}
	}

	lines := make(chan *message.Message, watchBuffer)
	sess.OnMessage(func(msg *message.Message, visible bool) {
		if !visible {
			return
		}
		select {
		case lines <- msg:
		default:
			sess.Stats().IncDropped()
		}
	})

	if err := rt.connect(ctx); err != nil {
		return err
	}

	out := c.Root().Writer
	for {
		select {
		case <-ctx.Done():
			return rt.disconnect(context.Background())
		case msg := <-lines:
			printMessage(out, msg)
		case e := <-rt.status:
			if e.state == broker.StateDisconnected {
				return fmt.Errorf("connection lost: %s", describe(e.reason))
			}
		}
	}
}

func printMessage(w io.Writer, msg *message.Message) {
	fmt.Fprintf(w, "%s  %s  %s\n", msg.Timestamp(), msg.Topic(), msg.Payload())
}
