package main

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/cairndb/cairn/cairndb/backend"
	"github.com/cairndb/cairn/cairndb/backend/local"
)

type globalOptions struct{}

type backendOptions struct {
	Backend string `help:"backend to connect to (local)" default:"local"`
	Path    string `help:"path to the backend" required:""`
}

var cli struct {
	globalOptions

	ListBlocks listBlocksCmd `cmd:"" help:"list all blocks for a tenant"`
	ViewBlock  viewBlockCmd  `cmd:"" help:"view the meta of a single block"`
	QueryTrace queryTraceCmd `cmd:"" help:"query a running cairn instance for a trace id"`
}

func main() {
	ctx := kong.Parse(&cli, kong.UsageOnError())
	err := ctx.Run(&cli.globalOptions)
	ctx.FatalIfErrorf(err)
}

func loadBackend(b *backendOptions) (backend.Reader, backend.Compactor, error) {
	switch b.Backend {
	case "local":
		r, _, c, err := local.NewAll(&local.Config{
			Path: b.Path,
		})
		return r, c, err
	default:
		return nil, nil, fmt.Errorf("unknown backend %s", b.Backend)
	}
}
