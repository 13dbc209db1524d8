package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"mqttview/internal/filter"
)

type PublishCmd struct {
	flags *Flags

	topic   string
	payload string
	qos     int
	retain  bool
}

func NewPublishCmd(flags *Flags) *PublishCmd {
	return &PublishCmd{flags: flags}
}

func (cmd *PublishCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "publish",
		Usage: "publish a single message",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "topic to publish to",
				Required:    true,
				Destination: &cmd.topic,
			},
			&cli.StringFlag{
				Name:        "message",
				Aliases:     []string{"m"},
				Usage:       "message payload",
				Destination: &cmd.payload,
			},
			&cli.IntFlag{
				Name:        "qos",
				Aliases:     []string{"q"},
				Usage:       "QoS (0-2)",
				Destination: &cmd.qos,
			},
			&cli.BoolFlag{
				Name:        "retain",
				Aliases:     []string{"r"},
				Usage:       "ask the broker to retain the message",
				Destination: &cmd.retain,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *PublishCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.qos < 0 || cmd.qos > 2 {
		return fmt.Errorf("%w: %d", filter.ErrInvalidQoS, cmd.qos)
	}
	if err := filter.ValidateTopicName(cmd.topic); err != nil {
		return err
	}

	rt, err := startRuntime(cmd.flags)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.connect(ctx); err != nil {
		return err
	}
	if err := rt.session.Publish(cmd.topic, []byte(cmd.payload), byte(cmd.qos), cmd.retain); err != nil {
		return err
	}
	if err := rt.disconnect(ctx); err != nil {
		return err
	}

	fmt.Fprintf(c.Root().Writer, "published %d bytes to %s\n", len(cmd.payload), cmd.topic)
	return nil
}
