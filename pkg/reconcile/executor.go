package reconcile

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/fingerprint"
)

var fs = afero.NewOsFs()

// Transfer moves font bytes between the local machine and the store.
type Transfer interface {
	// ListRemote returns the store's current inventory.
	ListRemote(ctx context.Context) (fingerprint.Inventory, error)

	// Fetch downloads the named font and returns the path of the
	// downloaded file.
	Fetch(ctx context.Context, name string) (string, error)

	// Push uploads the file at path under the given name and returns the
	// content hash the store computed for it.
	Push(ctx context.Context, name, path string) (string, error)

	// Hash returns the store's recorded content hash for the named font.
	Hash(ctx context.Context, name string) (string, error)
}

// Installer registers a downloaded font with the operating system.
type Installer interface {
	Install(path string) error
}

// Result tallies what Execute did.
type Result struct {
	Uploaded   int
	Downloaded int
	Renamed    int
	Skipped    int

	// Failures holds the per-font errors that didn't stop the run.
	Failures []error
}

// Executor applies a plan. Installer may be nil, in which case downloaded
// fonts are left in place without being registered with the OS.
type Executor struct {
	Transfer  Transfer
	Installer Installer
}

// Execute applies each step of the plan in order. Every transferred file is
// re-hashed after the transfer and discarded if the bytes on the other side
// don't match; a font is never installed before its hash has been verified.
// Per-font failures are collected in the result rather than aborting the
// run. localPaths maps font names to their paths on disk and must cover
// every upload step.
func (e Executor) Execute(ctx context.Context, plan Plan,
	localPaths map[string]string) (Result, error) {

	var res Result
	for _, step := range plan {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch step.Action {
		case ActionSkip:
			res.Skipped++

		case ActionUpload:
			if err := e.upload(ctx, step, localPaths); err != nil {
				log.WithError(err).WithField("font", step.Name).
					Warn("Upload failed")
				res.Failures = append(res.Failures,
					errors.WithContext(err, "upload "+step.Name))
				continue
			}
			res.Uploaded++
			if step.Conflict == DecisionRename {
				res.Renamed++
			}

		case ActionDownload:
			if err := e.download(ctx, step.Name); err != nil {
				log.WithError(err).WithField("font", step.Name).
					Warn("Download failed")
				res.Failures = append(res.Failures,
					errors.WithContext(err, "download "+step.Name))
				continue
			}
			res.Downloaded++
		}
	}
	return res, nil
}

func (e Executor) upload(ctx context.Context, step Step,
	localPaths map[string]string) error {

	path, ok := localPaths[step.Name]
	if !ok {
		return errors.FileNotFound{Path: step.Name}
	}

	// Hash immediately before sending so a concurrent edit is caught by
	// the store's echo rather than silently shipped.
	localHash, err := fingerprint.HashFile(path)
	if err != nil {
		return errors.WithContext(err, "hash before upload")
	}

	name := step.Name
	if step.Conflict == DecisionRename {
		name = step.RenameTo
		log.WithField("font", step.Name).WithField("as", name).
			Info("Uploading under a new name to avoid a conflict")
	}

	echoed, err := e.Transfer.Push(ctx, name, path)
	if err != nil {
		return err
	}
	if echoed != localHash {
		return errors.HashMismatchError{
			Name:     name,
			Expected: localHash,
			Actual:   echoed,
		}
	}
	return nil
}

func (e Executor) download(ctx context.Context, name string) error {
	path, err := e.Transfer.Fetch(ctx, name)
	if err != nil {
		return err
	}

	expected, err := e.Transfer.Hash(ctx, name)
	if err != nil {
		return errors.WithContext(err, "fetch expected hash")
	}

	actual, err := fingerprint.HashFile(path)
	if err != nil {
		return errors.WithContext(err, "hash downloaded file")
	}

	if actual != expected {
		if rmErr := fs.Remove(path); rmErr != nil {
			log.WithError(rmErr).WithField("path", path).
				Warn("Failed to remove corrupt download")
		}
		return errors.HashMismatchError{
			Name:     name,
			Expected: expected,
			Actual:   actual,
		}
	}

	if e.Installer != nil {
		if err := e.Installer.Install(path); err != nil {
			return errors.WithContext(err, "install font")
		}
	}
	return nil
}
