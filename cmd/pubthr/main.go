// Command pubthr publishes as fast as allowed on the throughput key.
package main

import (
	"context"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/internal/cli"
)

func main() {
	cli.Main("pubthr", 64, func(ctx context.Context, env *cli.Env) error {
		r, err := env.Requester(0)
		if err != nil {
			return err
		}
		return bench.NewPublisher(r, bench.PublisherConfig{
			Labels:  env.Args.Labels(),
			Payload: env.Args.Payload,
			Rate:    env.Args.Rate,
			Count:   env.Args.Count,
			Print:   env.Args.Print,
		}, env.Sink, env.Logger).Run(ctx)
	})
}
