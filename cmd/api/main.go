package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rcbudget.org/internal/access"
	"rcbudget.org/internal/audit"
	"rcbudget.org/internal/budget"
	"rcbudget.org/internal/directory"
	"rcbudget.org/internal/httpapi"
	"rcbudget.org/internal/obs"
	"rcbudget.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db          *sql.DB
		accessStore access.Store
		budgetStore budget.Store
		auditStore  audit.Store
	)
	if dsn := os.Getenv("RCB_PG_DSN"); dsn != "" {
		pgdb, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = pgdb.SQL()
		accessStore = pgdb.Access()
		budgetStore = pgdb.Budget()
		auditStore = pgdb.Audit()
	} else {
		// No DSN: in-memory stores for local development.
		accessStore = access.NewMemory()
		budgetStore = budget.NewMemory()
		auditStore = audit.NewMemory()
	}

	dir, err := loadDirectory(os.Getenv("RCB_DIRECTORY_FILE"))
	if err != nil {
		log.Fatalf("load directory: %v", err)
	}

	accessSvc, err := access.NewService(accessStore, dir)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}
	trail, err := audit.NewService(auditStore)
	if err != nil {
		log.Fatalf("audit service: %v", err)
	}
	cloner, err := budget.NewCloner(budgetStore, trail)
	if err != nil {
		log.Fatalf("cloner: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Ready:       httpapi.ReadyProbe{DB: db},
		Version:     version,
		Access:      accessSvc,
		AccessStore: accessStore,
		Budget:      budgetStore,
		Cloner:      cloner,
		Trail:       trail,
	})

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 50, 25),
						1<<20,
					),
				),
			),
		),
	)

	addr := os.Getenv("RCB_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting rcbudget-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// loadDirectory reads the static directory file when configured. The
// file holds a JSON array of {"identifier": ..., "display_name": ...}
// entries; production deployments swap in a live directory client.
func loadDirectory(path string) (directory.Directory, error) {
	if path == "" {
		return directory.NewStatic(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Identifier  string `json:"identifier"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	dir := directory.NewStatic()
	for _, e := range entries {
		dir.Add(directory.Entry{Identifier: e.Identifier, DisplayName: e.DisplayName})
	}
	return dir, nil
}
