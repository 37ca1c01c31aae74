package studioddb

import (
	studiocli "github.com/atelierhq/studio-realtime/studio-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster string
	DAXRegion  string
}

var DAXClusterFlag = studiocli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var DAXRegionFlag = studiocli.StringFlag("dax-region", "The region the DAX cluster lives in", &DDBOpts.DAXRegion)

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	DAXRegionFlag,
}
