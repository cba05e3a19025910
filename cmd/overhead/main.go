// Command overhead reports the per-message wire overhead of session
// traffic in a pcap capture.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/ssd532/psbench/internal/cli"
	"github.com/ssd532/psbench/internal/overhead"
)

func main() {
	cli.Main("overhead", 64, func(ctx context.Context, env *cli.Env) error {
		if env.Args.Pcap == "" {
			return errors.New("--pcap is required")
		}
		f, err := os.Open(env.Args.Pcap)
		if err != nil {
			return errors.Wrap(err, "open capture")
		}
		defer f.Close()

		res, err := overhead.Analyze(f, env.Args.Port, env.Logger)
		if err != nil {
			return err
		}
		fmt.Println(res)
		return nil
	})
}
