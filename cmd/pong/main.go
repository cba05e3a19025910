// Command pong echoes ping probes back to the sender.
package main

import (
	"context"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
)

func main() {
	cli.Main("pong", 64, func(ctx context.Context, env *cli.Env) error {
		r, err := env.Requester(1)
		if err != nil {
			return err
		}
		return bench.NewPong(r, env.Settle(), env.Logger).Run(ctx)
	})
}
