package main

import (
	"fmt"
	"log"
	"os"

	studiocli "github.com/atelierhq/studio-realtime/studio-cli"
	studioddb "github.com/atelierhq/studio-realtime/studio-ddb"
	studiorest "github.com/atelierhq/studio-realtime/studio-rest"
	"github.com/atelierhq/studio-realtime/studio-ws/notificationdao"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/urfave/cli/v2"
)

var service = studiocli.NewService("notifications-api")

func main() {
	flags := append([]cli.Flag{}, studiocli.CommonFlags...)
	flags = append(flags, studioddb.DDBFlags...)
	flags = append(flags, studiocli.PortFlag(3000))

	app := studiocli.App(service, action, flags...)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := studioddb.DynamoDBAPI(sess)
	if err != nil {
		return fmt.Errorf("building dynamodb client: %w", err)
	}

	notifications := notificationdao.Build(api, studiocli.CommonOpts.Env)
	routes := Routes(notifications)
	return studiorest.Webserver(service, routes)
}
