// Package app wires repositories, backends and services together for the server and the command line tool
package app

import (
	"fmt"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	cfp "github.com/derWhity/cfpdesk/internal"
	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/ctxhelper"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/mail"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
	sessionrepo "github.com/derWhity/cfpdesk/internal/repos/session/inmem"
	storerepo "github.com/derWhity/cfpdesk/internal/repos/store/sqlite"
	wsinmem "github.com/derWhity/cfpdesk/internal/repos/workingset/inmem"
	wsredis "github.com/derWhity/cfpdesk/internal/repos/workingset/redis"
	"github.com/derWhity/cfpdesk/internal/worker"
)

const dbFile = "cfpdesk.db"

// App holds the wired services and the backends that need closing
type App struct {
	Config   cfp.ConfigService
	DB       *sqlx.DB
	Store    repos.Store
	Sessions *sessionrepo.SessionRepo
	Mailer   mail.Mailer
	Bus      bus.Publisher
	Runner   *worker.Runner
	Services cfp.Services
	logger   *logrus.Entry
}

// CheckAndCreateDir checks and tries to create the given directory recursively
func CheckAndCreateDir(path string, logger *logrus.Entry) error {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if e, ok := err.(*os.PathError); ok && e.Err == syscall.ENOENT {
			logger.WithField(log.FldPath, path).Info("Directory does not exist - trying to create...")
			if err = os.MkdirAll(path, os.ModePerm); err != nil {
				return fmt.Errorf("failed to create directory '%s': %v", path, err)
			}
			logger.Info("Directory created successfully")
			return nil
		}
		return fmt.Errorf("stat of '%s' has failed: %v", path, err)
	}
	if !fileInfo.IsDir() {
		return fmt.Errorf("'%s' is not a directory. Remove the plain file if you want to continue", path)
	}
	return nil
}

// New opens the database and the configured backends and creates all services
func New(ctx context.Context, cs cfp.ConfigService, logger *logrus.Entry) (*App, error) {
	conf := cs.GetConfig(ctx)
	logger.Infof("Using '%s' as data directory", conf.DataDir)
	if err := CheckAndCreateDir(conf.DataDir, logger); err != nil {
		return nil, err
	}
	logger.Info("Opening database and performing migrations...")
	db, err := storerepo.Open(path.Join(conf.DataDir, dbFile), logger)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:   cs,
		DB:       db,
		Store:    storerepo.New(db, logger.WithField(log.FldTransport, "sqlite")),
		Sessions: sessionrepo.New(sessionrepo.DefaultExpiry),
		Bus:      bus.NewPublisher(ctx, conf.Kafka.Brokers, logger.WithField(log.FldTransport, "kafka")),
		logger:   logger,
	}
	a.Runner = worker.NewRunner(a.Store, logger.WithField("component", "worker"))

	if conf.AMQP.URL != "" {
		m, err := mail.NewAMQPMailer(conf.AMQP.URL, conf.AMQP.Queue, logger.WithField(log.FldTransport, "amqp"))
		if err != nil {
			logger.WithError(err).Warn("AMQP is not reachable - mails are only logged")
		} else {
			a.Mailer = m
		}
	}
	if a.Mailer == nil {
		a.Mailer = mail.NewLogMailer(logger.WithField(log.FldTransport, "mail"))
	}

	var workingSets repos.WorkingSetRepo = wsinmem.New()
	if conf.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		ttl := time.Duration(conf.Redis.TTLMinutes) * time.Minute
		if ws, err := wsredis.New(ctx, client, ttl, logger.WithField(log.FldTransport, "redis")); err != nil {
			logger.WithError(err).Warn("Redis is not reachable - working sets are kept in memory")
			client.Close()
		} else {
			workingSets = ws
		}
	}

	svcLogger := func(name string) *logrus.Entry {
		return logger.WithField("service", name)
	}
	ns := cfp.NewNotificationService(a.Store, a.Mailer, a.Bus, cs, svcLogger("notification"))
	a.Services = cfp.Services{
		Sessions:      cfp.NewSessionService(a.Sessions, a.Store.Repos().Users, cs, svcLogger("session")),
		Proposals:     cfp.NewProposalService(a.Store, ns, cs, svcLogger("proposal")),
		Anonymiser:    cfp.NewAnonymiserService(a.Store, svcLogger("anonymiser")),
		Reviews:       cfp.NewReviewService(a.Store, workingSets, cs, svcLogger("review")),
		Rounds:        cfp.NewRoundService(a.Store, ns, svcLogger("round")),
		Finalise:      cfp.NewFinaliseService(a.Store, ns, svcLogger("finalise")),
		Schedule:      cfp.NewScheduleService(a.Store, ns, cs, svcLogger("schedule")),
		Lottery:       cfp.NewLotteryService(a.Store, ns, cs, svcLogger("lottery")),
		Venues:        cfp.NewVenueService(a.Store, svcLogger("venue")),
		Notifications: ns,
		Import:        cfp.NewImportService(a.Store, cs, svcLogger("import")),
		Export:        cfp.NewExportService(a.Store, cs, svcLogger("export")),
	}
	return a, nil
}

// EnsureDefaultUser creates the configured admin account if there is no user with its e-mail address yet and
// returns it
func (a *App) EnsureDefaultUser(ctx context.Context) (*models.User, error) {
	conf := a.Config.GetConfig(ctx)
	if conf.DefaultUser == nil || conf.DefaultUser.Email == "" {
		return nil, fmt.Errorf("no default user configured")
	}
	users := a.Store.Repos().Users
	u, err := users.GetByEmail(conf.DefaultUser.Email)
	if err == nil {
		return u, nil
	}
	if err != repos.ErrEntityNotExisting {
		return nil, err
	}
	u = &models.User{
		Email: conf.DefaultUser.Email,
		Name:  conf.DefaultUser.Name,
	}
	u.GrantPermission(models.PermCFPAdmin)
	if err := u.SetPassword(conf.DefaultUser.Password); err != nil {
		return nil, err
	}
	if err := users.Create(u); err != nil {
		return nil, err
	}
	a.logger.WithFields(logrus.Fields{log.FldUser: u.ID, "email": u.Email}).Info("Created default admin user")
	return u, nil
}

// AdminContext returns a context acting as the default admin user. The command line tool uses it.
func (a *App) AdminContext(ctx context.Context) (context.Context, error) {
	u, err := a.EnsureDefaultUser(ctx)
	if err != nil {
		return nil, err
	}
	ctx = ctxhelper.WithLogger(ctx, a.logger.WithField(log.FldUser, u.ID))
	return ctxhelper.WithUser(ctx, *u), nil
}

// StartJobs starts the periodic jobs. They stop when the context is cancelled.
func (a *App) StartJobs(ctx context.Context) {
	conf := a.Config.GetConfig(ctx)
	interval := time.Duration(conf.Mail.FlushIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	a.Runner.Start(ctxhelper.WithLogger(ctx, a.logger), a.Services.Notifications.MailJob(interval))
}

// Close waits for running jobs and releases all backends
func (a *App) Close() {
	a.Runner.Wait()
	a.Sessions.Close()
	if err := a.Mailer.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close mailer")
	}
	if err := a.Bus.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close message bus")
	}
	if err := a.DB.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}
