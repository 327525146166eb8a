package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/born-ml/neuralode/internal/mnist"
)

func downloadAction(c *cli.Context) error {
	h, err := hyperparams(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, h)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	paths, err := mnist.Fetch(c.Context, h.DataDir, mnist.FetchOptions{
		Mirror:   h.Mirror,
		Download: true,
		Logger:   logger,
	})
	if err != nil {
		return errors.Wrap(err, "fetch MNIST")
	}
	for _, p := range paths {
		fmt.Fprintln(c.App.Writer, p)
	}
	return nil
}
