// Package seed populates the user store with initial accounts.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bookly/service_layer/internal/app/domain/user"
	"github.com/bookly/service_layer/internal/app/metrics"
	"github.com/bookly/service_layer/internal/app/services/users"
	"github.com/bookly/service_layer/internal/app/storage"
	"github.com/bookly/service_layer/pkg/logger"
	"github.com/bookly/service_layer/pkg/promisestate"
)

// DefaultDelay is the pause before each account is created.
const DefaultDelay = 200 * time.Millisecond

//go:embed seed_data.yaml
var defaultData []byte

type document struct {
	Users []users.CreateInput `yaml:"users"`
}

// Parse decodes a seed document.
func Parse(data []byte) ([]users.CreateInput, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed data: %w", err)
	}
	return doc.Users, nil
}

// Load reads seed users from path, or the embedded data set when path is
// empty.
func Load(path string) ([]users.CreateInput, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultData)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Creator creates user accounts.
type Creator interface {
	Create(ctx context.Context, in users.CreateInput) (user.User, error)
}

// Summary reports the outcome of a seed run.
type Summary struct {
	Created  int
	Existing int
	Failed   int
	IDs      []string
}

// Total is the number of accounts attempted.
func (s Summary) Total() int { return s.Created + s.Existing + s.Failed }

// Runner creates seed accounts one at a time through a tracked operation.
type Runner struct {
	log     *logger.Logger
	delay   time.Duration
	tracker *promisestate.Tracker[user.User, users.CreateInput]
}

// NewRunner builds a runner. A negative delay is treated as zero.
func NewRunner(creator Creator, delay time.Duration, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("seed")
	}
	if delay < 0 {
		delay = 0
	}
	r := &Runner{log: log, delay: delay}
	r.tracker = promisestate.New[user.User, users.CreateInput](creator.Create, r.logFailure)
	metrics.ObserveTracker("seed_create_user", r.tracker)
	return r
}

func (r *Runner) logFailure(err error) {
	if errors.Is(err, storage.ErrConflict) {
		r.log.Error("The account already exists")
		return
	}
	r.log.WithError(err).Error("account creation failed")
}

// Run creates every account in order. Failures are logged and counted and do
// not stop the run; a cancelled ctx stops before the next account.
func (r *Runner) Run(ctx context.Context, inputs []users.CreateInput) Summary {
	var sum Summary
	for _, in := range inputs {
		if ctx.Err() != nil {
			r.log.WithError(ctx.Err()).Warn("seed run interrupted")
			break
		}
		r.log.Infof("Creating account: %s", in.Email)

		created := r.tracker.Execute(ctx, r.delay, in)
		if err := r.tracker.Err(); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				sum.Existing++
			} else {
				sum.Failed++
			}
			continue
		}
		r.log.Infof("Account has been created! ID: %s", created.ID)
		sum.Created++
		sum.IDs = append(sum.IDs, created.ID)
	}
	r.log.WithField("created", sum.Created).
		WithField("existing", sum.Existing).
		WithField("failed", sum.Failed).
		Info("seed run finished")
	return sum
}

// State exposes the tracker state after the most recent account.
func (r *Runner) State() promisestate.State[user.User] {
	return r.tracker.State()
}
