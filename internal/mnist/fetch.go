package mnist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrChecksumMismatch is returned when a file does not match its digest.
var ErrChecksumMismatch = errors.New("mnist: checksum mismatch")

// FetchOptions configures Fetch.
type FetchOptions struct {
	// Mirror is the base URL the archives are fetched from (DefaultMirror if empty).
	Mirror string
	// Resources overrides the file set (Resources if nil).
	Resources []Resource
	// Download allows fetching missing files. Without it a missing file is an error.
	Download bool
	Logger   *zap.SugaredLogger
}

// Fetch makes sure every resource exists in dir with the right digest,
// downloading missing or corrupt files concurrently. It returns the paths of
// the verified files in resource order.
func Fetch(ctx context.Context, dir string, opts FetchOptions) ([]string, error) {
	if opts.Mirror == "" {
		opts.Mirror = DefaultMirror
	}
	if opts.Resources == nil {
		opts.Resources = Resources
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mnist: create data dir: %w", err)
	}

	paths := make([]string, len(opts.Resources))
	var missing []Resource
	for i, res := range opts.Resources {
		path := filepath.Join(dir, res.Name)
		paths[i] = path

		err := Verify(path, res.SHA256)
		switch {
		case err == nil:
			logger.Debugw("dataset file present", "file", res.Name)
			continue
		case errors.Is(err, os.ErrNotExist):
		case errors.Is(err, ErrChecksumMismatch):
			logger.Warnw("dataset file corrupt, fetching again", "file", res.Name)
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("mnist: remove corrupt file: %w", err)
			}
		default:
			return nil, err
		}
		if !opts.Download {
			return nil, fmt.Errorf("mnist: %s not found in %s and download is disabled", res.Name, dir)
		}
		missing = append(missing, res)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, res := range missing {
		path := filepath.Join(dir, res.Name)
		g.Go(func() error {
			logger.Infow("downloading dataset file", "file", res.Name, "mirror", opts.Mirror)
			if err := download(ctx, opts.Mirror, res, path); err != nil {
				return err
			}
			return Verify(path, res.SHA256)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func download(ctx context.Context, mirror string, res Resource, dst string) error {
	src := strings.TrimSuffix(mirror, "/") + "/" + res.Name + "?archive=false&checksum=sha256:" + res.SHA256
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("mnist: download %s: %w", res.Name, err)
	}
	return nil
}

// Verify checks the SHA-256 digest of the file at path.
func Verify(path, digest string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("mnist: hash %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != strings.ToLower(digest) {
		return fmt.Errorf("%w: %s has sha256 %s, want %s", ErrChecksumMismatch, filepath.Base(path), got, digest)
	}
	return nil
}
