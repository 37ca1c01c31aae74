package main

import (
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
	"github.com/atelierhq/studio-realtime/studio-ws/threaddao"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/urfave/cli/v2"
)

var service = studiocli.NewService("ws-handler")

var opts struct {
	WSEndpoint string
}

func main() {
	flags := append([]cli.Flag{}, studiocli.CommonFlags...)
	flags = append(flags, studioddb.DDBFlags...)
	flags = append(flags, studiocli.StringFlag("ws-endpoint", "API Gateway Management API endpoint for pushing messages", &opts.WSEndpoint))

	app := studiocli.App(service, action, flags...)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	if studiocli.CommonOpts.Console {
		return fmt.Errorf("ws-handler requires an API Gateway WebSocket event source")
	}

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

	handler := &studiows.Handler{
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
	}

	lambda.Start(handler.HandleEvent)
	return nil
}
