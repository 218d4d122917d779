package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/myrjola/coach/internal/activity"
	"github.com/myrjola/coach/internal/adherence"
	"github.com/myrjola/coach/internal/calendar"
	"github.com/myrjola/coach/internal/coach"
	"github.com/myrjola/coach/internal/envstruct"
	"github.com/myrjola/coach/internal/errors"
	"github.com/myrjola/coach/internal/evaluator"
	"github.com/myrjola/coach/internal/events"
	"github.com/myrjola/coach/internal/logging"
	"github.com/myrjola/coach/internal/plan"
	"github.com/myrjola/coach/internal/ptr"
	"github.com/myrjola/coach/internal/reconcile"
	"github.com/myrjola/coach/internal/sqlite"
)

type config struct {
	// SqliteURL is the URL to the SQLite database. You can use ":memory:" for an ethereal in-memory database.
	SqliteURL string `env:"COACH_SQLITE_URL" envDefault:"./coach.sqlite3"`
	// LogLevel is one of debug, info, warn and error.
	LogLevel  string `env:"COACH_LOG_LEVEL" envDefault:"info"`
	AthleteID string `env:"COACH_ATHLETE_ID" envDefault:"athlete"`
	// TimeZone is the athlete's IANA time zone. Activities count for the local day they started on.
	TimeZone string `env:"COACH_TZ" envDefault:"UTC"`
	// TemplatePath points to a YAML periodization template. Empty uses the built-in reference template.
	TemplatePath string `env:"COACH_TEMPLATE_PATH" envDefault:""`

	// RemoteURL is the base URL of the remote training calendar. Empty disables calendar sync.
	RemoteURL   string        `env:"COACH_REMOTE_URL" envDefault:""`
	RemoteToken string        `env:"COACH_REMOTE_TOKEN" envDefault:""`
	PoolLengthM int           `env:"COACH_POOL_LENGTH_M" envDefault:"25"`
	MaxRetries  int           `env:"COACH_SYNC_MAX_RETRIES" envDefault:"4"`
	RetryDelay  time.Duration `env:"COACH_SYNC_RETRY_DELAY" envDefault:"500ms"`
	SweepDays   int           `env:"COACH_SWEEP_DAYS" envDefault:"14"`

	// OpenAIKey enables the language model evaluator. Without it the rule-based evaluator is used.
	OpenAIKey   string `env:"COACH_OPENAI_API_KEY" envDefault:""`
	OpenAIModel string `env:"COACH_OPENAI_MODEL" envDefault:""`

	// WearableExport and StrengthExport are JSON activity exports read on every import.
	WearableExport string `env:"COACH_WEARABLE_EXPORT" envDefault:""`
	StrengthExport string `env:"COACH_STRENGTH_EXPORT" envDefault:""`

	// KafkaBrokers is a comma separated broker list. Empty disables event publishing.
	KafkaBrokers string `env:"COACH_KAFKA_BROKERS" envDefault:""`
	KafkaTopic   string `env:"COACH_KAFKA_TOPIC" envDefault:"coach.plan-events"`

	// Schedule is the cron spec of the daemon's daily sync.
	Schedule    string `env:"COACH_SYNC_SCHEDULE" envDefault:"0 0 5 * * *"`
	MetricsAddr string `env:"COACH_METRICS_ADDR" envDefault:"localhost:9464"`
}

// app holds what the subcommands share. It is opened lazily so that --help works without a database.
type app struct {
	lookupEnv func(string) (string, bool)
	cfg       config
	logger    *slog.Logger
	location  *time.Location
	db        *sqlite.Database
	publisher events.Publisher
	service   *coach.Service
}

func (a *app) open(ctx context.Context) error {
	if a.service != nil {
		return nil
	}
	if err := envstruct.Populate(&a.cfg, a.lookupEnv); err != nil {
		return errors.Wrap(err, "populate config")
	}
	a.logger = logging.NewLogger(os.Stderr, logging.ParseLevel(a.cfg.LogLevel))

	location, err := time.LoadLocation(a.cfg.TimeZone)
	if err != nil {
		return errors.Wrap(err, "load time zone", slog.String("tz", a.cfg.TimeZone))
	}
	a.location = location

	template := plan.ReferenceTemplate()
	if a.cfg.TemplatePath != "" {
		if template, err = plan.LoadTemplate(a.cfg.TemplatePath); err != nil {
			return errors.Wrap(err, "load template", slog.String("path", a.cfg.TemplatePath))
		}
	}

	db, err := sqlite.NewDatabase(ctx, a.cfg.SqliteURL, a.logger)
	if err != nil {
		return errors.Wrap(err, "open db", slog.String("url", a.cfg.SqliteURL))
	}
	a.db = db

	deps := coach.Deps{
		Template:  template,
		Evaluator: evaluator.DefaultHeuristic(),
		Providers: []activity.Provider{},
		Remote:    nil,
		Publisher: events.Nop{},
		ReconcileOptions: reconcile.Options{
			MaxRetries:      ptr.Ref(uint64(max(a.cfg.MaxRetries, 0))), //nolint:gosec // clamped to non-negative.
			InitialInterval: a.cfg.RetryDelay,
			PoolLengthM:     a.cfg.PoolLengthM,
		},
	}
	if a.cfg.OpenAIKey != "" {
		deps.Evaluator = evaluator.NewOpenAI(a.cfg.OpenAIKey, a.cfg.OpenAIModel, a.logger)
	}
	if a.cfg.WearableExport != "" {
		deps.Providers = append(deps.Providers, activity.NewFileProvider(activity.SourceWearable, a.cfg.WearableExport))
	}
	if a.cfg.StrengthExport != "" {
		deps.Providers = append(deps.Providers,
			activity.NewFileProvider(activity.SourceStrengthApp, a.cfg.StrengthExport))
	}
	if a.cfg.RemoteURL != "" {
		deps.Remote = calendar.NewClient(a.cfg.RemoteURL, a.cfg.RemoteToken, nil, a.logger)
	}
	if a.cfg.KafkaBrokers != "" {
		deps.Publisher = events.NewKafkaPublisher(strings.Split(a.cfg.KafkaBrokers, ","), a.cfg.KafkaTopic, a.logger)
	}
	a.publisher = deps.Publisher

	a.service = coach.New(db, a.logger, deps, coach.Config{
		AthleteID:      a.cfg.AthleteID,
		AdherenceDays:  0,
		SweepDays:      a.cfg.SweepDays,
		EvaluationDays: 0,
		Thresholds:     adherence.DefaultThresholds(),
		Location:       location,
	})
	a.logger.LogAttrs(ctx, slog.LevelDebug, "opened coach",
		slog.String("db", a.cfg.SqliteURL),
		slog.Bool("remote", deps.Remote != nil),
		slog.Int("providers", len(deps.Providers)))
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
