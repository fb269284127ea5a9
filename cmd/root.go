package cmd

import (
	"os"
	"time"

	audienceApp "github.com/leadpulse/engine/audience/application"
	audienceDomain "github.com/leadpulse/engine/audience/domain"
	audienceRepo "github.com/leadpulse/engine/audience/repository"
	campaignApp "github.com/leadpulse/engine/campaign/application"
	campaignDomain "github.com/leadpulse/engine/campaign/domain"
	campaignRepo "github.com/leadpulse/engine/campaign/repository"
	coreConfig "github.com/leadpulse/engine/core/config"
	coreDB "github.com/leadpulse/engine/core/database"
	creditsApp "github.com/leadpulse/engine/credits/application"
	creditsDomain "github.com/leadpulse/engine/credits/domain"
	creditsRepo "github.com/leadpulse/engine/credits/repository"
	syncApp "github.com/leadpulse/engine/devicesync/application"
	syncDomain "github.com/leadpulse/engine/devicesync/domain"
	syncRepo "github.com/leadpulse/engine/devicesync/repository"
	dispatchDomain "github.com/leadpulse/engine/dispatch/domain"
	dispatchRepo "github.com/leadpulse/engine/dispatch/repository"
	"github.com/leadpulse/engine/pkg/dispatchpool"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Repositories
	leadRepository     audienceDomain.ILeadRepository
	cursorRepository   audienceDomain.ICursorRepository
	campaignRepository campaignDomain.ICampaignRepository
	settingsRepository campaignDomain.ISettingsRepository
	ledgerRepository   creditsDomain.ILedgerRepository
	dispatchRepository dispatchDomain.IDispatchRepository
	deviceRepository   syncDomain.IDeviceRepository

	// Services
	workerPool       *dispatchpool.Pool
	ledgerService    *creditsApp.LedgerService
	audienceResolver *audienceApp.Resolver
	governor         *campaignApp.Governor
	campaignService  *campaignApp.CampaignService
	scheduler        *campaignApp.DispatchScheduler
	syncGateway      *syncApp.SyncGateway
)

var rootCmd = &cobra.Command{
	Use:   "leadpulse",
	Short: "Multi-channel campaign dispatch engine",
	Long: `LeadPulse schedules quiz-lead campaigns across sms, whatsapp and email,
meters them against a credit ledger and hands messages to polling
delivery agents over a pull-based sync API.`,
}

func init() {
	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	cobra.OnInitialize(initApp)
}

func initApp() {
	cfg, err := coreConfig.LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("failed to open database: %v", err)
	}

	leadRepository = audienceRepo.NewLeadGormRepository(db)
	cursorRepository = audienceRepo.NewCursorGormRepository(db)
	campaignRepository = campaignRepo.NewCampaignGormRepository(db)
	settingsRepository = campaignRepo.NewSettingsGormRepository(db)
	ledgerRepository = creditsRepo.NewLedgerGormRepository(db)
	ledgerService = creditsApp.NewLedgerService(ledgerRepository)
	dispatchRepository = dispatchRepo.NewDispatchGormRepository(db)
	deviceRepository = syncRepo.NewDeviceGormRepository(db)

	workerPool = dispatchpool.NewPool(cfg.Dispatch.PoolWorkers, cfg.Dispatch.PoolQueueSize)

	notifier := campaignApp.NewLogNotifier()
	audienceResolver = audienceApp.NewResolver(leadRepository, cursorRepository, cfg.Identity.DefaultCountryCode)
	governor = campaignApp.NewGovernor(settingsRepository, dispatchRepository, cfg.Governor)
	campaignService = campaignApp.NewCampaignService(campaignRepository, dispatchRepository, ledgerService, notifier)
	scheduler = campaignApp.NewDispatchScheduler(
		campaignRepository,
		audienceResolver,
		ledgerService,
		governor,
		campaignApp.NewComposer(),
		dispatchRepository,
		notifier,
		workerPool,
		cfg.Dispatch,
		cfg.Sync,
	)
	syncGateway = syncApp.NewSyncGateway(
		dispatchRepository,
		deviceRepository,
		campaignRepository,
		governor,
		audienceResolver,
		cfg.Sync,
	)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
