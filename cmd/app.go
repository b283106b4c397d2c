// Package cmd provides the matrix-puppet-slack CLI application
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"

	"github.com/kfatehi/matrix-puppet-slack/bridge"
	"github.com/kfatehi/matrix-puppet-slack/config"
	"github.com/kfatehi/matrix-puppet-slack/slack"
	"github.com/kfatehi/matrix-puppet-slack/util"
)

// New creates a new CLI application
func New() *cli.App {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"SLACK_PUPPET_CONFIG_FILE"}, Value: "/etc/matrix-puppet-slack/config.yml", DefaultText: "/etc/matrix-puppet-slack/config.yml", Usage: "config file"},
		&cli.BoolFlag{Name: "debug", EnvVars: []string{"SLACK_PUPPET_DEBUG"}, Value: false, Usage: "enable debugging output"},
		altsrc.NewStringFlag(&cli.StringFlag{Name: "user-access-token", Aliases: []string{"t"}, EnvVars: []string{"SLACK_PUPPET_USER_ACCESS_TOKEN"}, DefaultText: "none", Usage: "Slack user access token"}),
		altsrc.NewStringFlag(&cli.StringFlag{Name: "team-name", Aliases: []string{"n"}, EnvVars: []string{"SLACK_PUPPET_TEAM_NAME"}, Value: "Slack", DefaultText: "Slack", Usage: "display label for the relayed team"}),
	}
	return &cli.App{
		Name:                   "matrix-puppet-slack",
		Usage:                  "Relay a Slack account's realtime messages into a local bridge",
		UsageText:              "matrix-puppet-slack [OPTION..]",
		HideHelp:               true,
		HideVersion:            true,
		EnableBashCompletion:   true,
		UseShortOptionHandling: true,
		Reader:                 os.Stdin,
		Writer:                 os.Stdout,
		ErrWriter:              os.Stderr,
		Action:                 execRun,
		Before:                 initConfigFileInputSource("config", flags),
		Flags:                  flags,
	}
}

func execRun(c *cli.Context) error {
	token := c.String("user-access-token")
	teamName := c.String("team-name")
	debug := c.Bool("debug")
	if token == "" || token == "MUST_BE_SET" {
		return errors.New("missing user access token, pass --user-access-token, set SLACK_PUPPET_USER_ACCESS_TOKEN env variable or user-access-token config option")
	}

	conf := config.New(token)
	conf.TeamName = teamName
	conf.Debug = debug
	puppet := bridge.New(conf, &logRelay{})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	if err := puppet.Start(context.Background()); err != nil {
		return err
	}
	<-sigs // Doesn't matter which
	log.Printf("Signal received. Closing connection.")
	puppet.Stop()
	log.Printf("Exiting.")
	return nil
}

// logRelay is a stand-in relay that writes everything to the log. The real
// relay framework plugs in through the bridge.Relay interface.
type logRelay struct{}

func (r *logRelay) SendStatus(text string) {
	log.Printf("status: %s", text)
}

func (r *logRelay) SendMessage(payload *slack.MessagePayload) {
	log.Printf("message: room=%s sender=%s (%s): %s", payload.RoomID, payload.SenderName, payload.SenderID, payload.Text)
}

func (r *logRelay) SendRename(rename *slack.RenameNotification) {
	log.Printf("rename: channel=%s name=%s", rename.Channel, rename.Name)
}

func (r *logRelay) SendTyping(typing *slack.TypingNotification) {
	log.Printf("typing: channel=%s user=%s", typing.Channel, typing.User)
}

// initConfigFileInputSource is like altsrc.InitInputSourceWithContext and
// altsrc.NewYamlSourceFromFlagFunc, but checks if the config flag is exists
// and only loads it if it does. If the flag is set and the file exists, it fails.
func initConfigFileInputSource(configFlag string, flags []cli.Flag) cli.BeforeFunc {
	return func(context *cli.Context) error {
		configFile := context.String(configFlag)
		if context.IsSet(configFlag) && !util.FileExists(configFile) {
			return fmt.Errorf("config file %s does not exist", configFile)
		} else if !context.IsSet(configFlag) && !util.FileExists(configFile) {
			return nil
		}
		inputSource, err := altsrc.NewYamlSourceFromFile(configFile)
		if err != nil {
			return err
		}
		return altsrc.ApplyInputSourceValues(context, inputSource, flags)
	}
}
