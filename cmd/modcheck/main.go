package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/whisper/moderation/internal/config"
	"github.com/whisper/moderation/internal/enforcement"
	"github.com/whisper/moderation/internal/engine"
	"github.com/whisper/moderation/internal/logging"
	"github.com/whisper/moderation/internal/messaging"
	"github.com/whisper/moderation/internal/moderation"
)

func main() {
	app := newApp(os.Stdout)
	app.RunAndExitOnError()
}

func newApp(out io.Writer) *cli.App {
	app := &cli.App{
		Name:   "modcheck",
		Usage:  "operator tool for the whisper moderation engine",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to moderator.yaml",
				EnvVars: []string{"MODERATOR_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "no-remote",
				Usage: "use the lexical pass only",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
			},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "analyze",
			Usage:     "classify text and print the classification result",
			ArgsUsage: "<text>",
			Action:    runAnalyze,
		},
		{
			Name:      "simulate",
			Usage:     "run messages through an in-memory dispatcher and print each decision",
			ArgsUsage: "<text> [<text>...]",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "subject", Value: "subject"},
				&cli.StringFlag{Name: "context", Value: "context"},
			},
			Action: runSimulate,
		},
		{
			Name:      "check",
			Usage:     "send a moderation check to a running moderator over NATS",
			ArgsUsage: "<text>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "subject", Required: true},
				&cli.StringFlag{Name: "context", Required: true},
				&cli.DurationFlag{Name: "timeout", Value: 20 * time.Second},
			},
			Action: runCheck,
		},
	}
	return app
}

func loadConfig(cctx *cli.Context) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	if cctx.Bool("no-remote") {
		cfg.Remote.Enabled = false
	}
	logger, err := logging.NewWithOutput(cctx.App.ErrWriter, cctx.String("log-level"), "text")
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runAnalyze(cctx *cli.Context) error {
	text := strings.Join(cctx.Args().Slice(), " ")
	cfg, logger, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	cascade, err := engine.NewCascade(cfg, logger, engine.Backends{})
	if err != nil {
		return err
	}
	return printJSON(cctx.App.Writer, cascade.Analyze(cctx.Context, text))
}

func runSimulate(cctx *cli.Context) error {
	if cctx.NArg() == 0 {
		return fmt.Errorf("need at least one message")
	}
	cfg, logger, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, logger, engine.Backends{})
	if err != nil {
		return err
	}

	for _, text := range cctx.Args().Slice() {
		dec := eng.Dispatcher.Moderate(cctx.Context, moderation.ModerationRequest{
			Text:      text,
			SubjectID: cctx.String("subject"),
			ContextID: cctx.String("context"),
		})
		if err := printJSON(cctx.App.Writer, enforcement.Encode(dec)); err != nil {
			return err
		}
	}
	return nil
}

func runCheck(cctx *cli.Context) error {
	cfg, logger, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	req := moderation.ModerationRequest{
		Text:      strings.Join(cctx.Args().Slice(), " "),
		SubjectID: cctx.String("subject"),
		ContextID: cctx.String("context"),
	}
	if err := req.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	nc, err := messaging.NewNATSClient(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
	defer cancel()
	reply, err := nc.Request(ctx, messaging.SubjectCheck, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cctx.App.Writer, string(reply))
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
