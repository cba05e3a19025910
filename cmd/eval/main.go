// Command eval answers queries with a reply of --payload bytes followed by
// a final reply.
package main

import (
	"context"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
)

func main() {
	cli.Main("eval", 64, func(ctx context.Context, env *cli.Env) error {
		r, err := env.Requester(1)
		if err != nil {
			return err
		}
		return bench.NewEval(r, env.Args.Payload, env.Settle(), env.Logger).Run(ctx)
	})
}
