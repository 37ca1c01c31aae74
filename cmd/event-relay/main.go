package main

import (
	"context"
	"fmt"
	"log"
	"os"

	studiocli "github.com/atelierhq/studio-realtime/studio-cli"
	studioddb "github.com/atelierhq/studio-realtime/studio-ddb"
	studiows "github.com/atelierhq/studio-realtime/studio-ws"
	"github.com/atelierhq/studio-realtime/studio-ws/connectiondao"
	"github.com/atelierhq/studio-realtime/studio-ws/eventdao"
	"github.com/atelierhq/studio-realtime/studio-ws/messagedao"
	"github.com/atelierhq/studio-realtime/studio-ws/notificationdao"
	"github.com/atelierhq/studio-realtime/studio-ws/projectdao"
	"github.com/atelierhq/studio-realtime/studio-ws/publish"
	"github.com/atelierhq/studio-realtime/studio-ws/threaddao"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	consumer "github.com/harlow/kinesis-consumer"
	"github.com/urfave/cli/v2"
)

var service = studiocli.NewService("event-relay")

var opts struct {
	WSEndpoint string
	StreamName string
	Replay     bool
}

func main() {
	flags := append([]cli.Flag{}, studiocli.CommonFlags...)
	flags = append(flags, studioddb.DDBFlags...)
	flags = append(flags,
		studiocli.StringFlag("ws-endpoint", "API Gateway Management API endpoint for pushing messages", &opts.WSEndpoint),
		studiocli.StringFlag("stream-name", "The stream name to read records from", &opts.StreamName),
		&cli.BoolFlag{
			Name:        "replay",
			Usage:       "Whether to replay from the beginning, or start from the next message",
			EnvVars:     []string{"REPLAY"},
			Destination: &opts.Replay,
		},
	)

	app := studiocli.App(service, action, flags...)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	logger := studiocli.Logger(service)

	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := studioddb.DynamoDBAPI(sess)
	if err != nil {
		return fmt.Errorf("building dynamodb client: %w", err)
	}

	env := studiocli.CommonOpts.Env
	connections := connectiondao.Build(api, env)
	notifications := notificationdao.Build(api, env)

	gateway := studiows.NewGateway(opts.WSEndpoint)
	router := studiows.NewRouter(connections, gateway, logger)
	notifier := studiows.NewNotifier(notifications, projectdao.Build(api, env), router, logger)

	dispatcher := &studiows.Dispatcher{
		Handler: &studiows.Handler{
			Connections:     connections,
			DMs:             messagedao.BuildDM(api, env),
			ProjectMessages: messagedao.BuildProject(api, env),
			Threads:         threaddao.Build(api, env),
			Events:          eventdao.Build(api, env),
			Notifications:   notifications,
			Notifier:        notifier,
			Router:          router,
			Sender:          gateway,
			Logger:          logger,
		},
		Logger: logger,
	}

	if !studiocli.CommonOpts.Console {
		lambda.Start(dispatcher.HandleKinesisEvent)
		return nil
	}

	return consume(dispatcher)
}

// consume tails the events stream directly, for running the relay against a
// live environment from a terminal.
func consume(dispatcher *studiows.Dispatcher) error {
	streamName := opts.StreamName
	if streamName == "" {
		streamName = publish.StreamName(studiocli.CommonOpts.Env)
	}

	var options []consumer.Option
	if opts.Replay {
		options = append(options, consumer.WithShardIteratorType("TRIM_HORIZON"))
	} else {
		options = append(options, consumer.WithShardIteratorType("LATEST"))
	}

	c, err := consumer.New(streamName, options...)
	if err != nil {
		return fmt.Errorf("building kinesis consumer for %v: %w", streamName, err)
	}

	ctx := dispatcher.Logger.WithContext(context.Background())
	return c.Scan(ctx, func(record *consumer.Record) error {
		er := events.KinesisEventRecord{
			Kinesis: events.KinesisRecord{Data: record.Data},
		}
		if err := dispatcher.ProcessRecord(ctx, er); err != nil {
			dispatcher.Logger.Error().Err(err).Msg("failed to process record")
		}
		return nil
	})
}
