package main

import (
	"log"
	"net/http"

	"github.com/zawadi/disburser/internal/api"
	"github.com/zawadi/disburser/internal/config"
	"github.com/zawadi/disburser/internal/ledger"
	"github.com/zawadi/disburser/internal/money"
	"github.com/zawadi/disburser/internal/recorder"
	"github.com/zawadi/disburser/internal/repository"
	"github.com/zawadi/disburser/internal/settlement"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	planExp, err := money.Exponent(cfg.Currency)
	if err != nil {
		log.Fatalf("Unsupported plan currency %s: %v", cfg.Currency, err)
	}

	log.Printf("Initializing transparency store at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	donationRepo := repository.NewDonationRepo(db)

	// Wallet boundary and chain adapters. One adapter per ledger; adding a
	// chain means registering one more adapter here.
	signer := ledger.NewWalletSigner(cfg.WalletURL, nil)
	registry := ledger.NewRegistry(
		ledger.NewMeridianAdapter(cfg.MeridianGatewayURL, cfg.MeridianSourceAccount, planExp, signer, nil),
		ledger.NewKoraAdapter(cfg.KoraRPCURL, cfg.KoraContract, cfg.KoraSenderAccount, planExp, signer, nil),
	)

	oracle := ledger.NewHTTPOracle(cfg.MeridianGatewayURL, cfg.KoraRPCURL, planExp, nil)

	// The transparency mirror is best-effort; without a configured store
	// the settlement simply skips recording.
	var rec settlement.Recorder
	if cfg.RecorderURL != "" {
		rec = recorder.NewClient(cfg.RecorderURL, nil)
	} else {
		log.Printf("RECORDER_URL not set; settlements will not be mirrored")
	}

	sessions := settlement.NewManager(registry, rec, cfg.PayerIdentity, cfg.SubmitTimeout)

	router := api.NewRouter(donationRepo, sessions, oracle, cfg.Currency)

	log.Printf("Zawadi Donation Disburser")
	log.Printf("Listening on http://localhost:%s", cfg.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/plans")
	log.Printf("  GET    /api/v1/balance")
	log.Printf("  POST   /api/v1/sessions")
	log.Printf("  GET    /api/v1/sessions")
	log.Printf("  GET    /api/v1/sessions/{id}")
	log.Printf("  POST   /api/v1/sessions/{id}/start")
	log.Printf("  POST   /api/v1/sessions/{id}/retry")
	log.Printf("  POST   /api/v1/sessions/{id}/abort")
	log.Printf("  POST   /api/v1/records")
	log.Printf("  GET    /api/v1/records")
	log.Printf("  GET    /api/v1/records/summary")

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
