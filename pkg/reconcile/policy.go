package reconcile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fontsync/fontsync/pkg/errors"
)

// Policy decides what happens when a font exists on both sides with
// different contents. Resolve is consulted at most once per conflicting
// name during a reconciliation.
type Policy interface {
	Resolve(name, localHash, remoteHash string) (ConflictDecision, error)
}

// NonInteractive skips every conflict and logs it so the run stays
// lossless without a human in the loop.
type NonInteractive struct{}

func (NonInteractive) Resolve(name, localHash, remoteHash string) (ConflictDecision, error) {
	log.WithField("font", name).
		WithField("local", shortHash(localHash)).
		WithField("remote", shortHash(remoteHash)).
		Info("Font differs on both sides; skipping (run with --interactive to resolve)")
	return DecisionSkip, nil
}

// Interactive prompts on the given streams. An answer that can't be read
// or understood resolves to Skip.
type Interactive struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func (p *Interactive) Resolve(name, localHash, remoteHash string) (ConflictDecision, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}

	fmt.Fprintf(p.Out, "Conflict: %q differs (local %s, remote %s)\n",
		name, shortHash(localHash), shortHash(remoteHash))
	fmt.Fprintf(p.Out, "[o]verwrite remote with local, [r]ename local copy, [s]kip? ")

	answer, err := p.reader.ReadString('\n')
	if err != nil {
		return DecisionSkip, errors.ConflictUnresolvedError{Name: name}
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "o", "overwrite":
		return DecisionOverwrite, nil
	case "r", "rename":
		return DecisionRename, nil
	case "s", "skip", "":
		return DecisionSkip, nil
	default:
		return DecisionSkip, errors.ConflictUnresolvedError{Name: name}
	}
}

// Scripted answers conflicts from a fixed table. Names without an entry
// resolve to Skip.
type Scripted struct {
	Decisions map[string]ConflictDecision
}

func (p Scripted) Resolve(name, localHash, remoteHash string) (ConflictDecision, error) {
	decision, ok := p.Decisions[name]
	if !ok {
		return DecisionSkip, nil
	}
	return decision, nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
