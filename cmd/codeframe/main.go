// codeframe is the core-engine server: it wires the persistence adapter,
// LLM gateway, quality-gate pipeline, evidence verifier, context manager,
// blocker registry, and maturity assessor into per-agent WorkerAgent
// instances, and exposes a thin HTTP surface sufficient to exercise the
// engine end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/frankbria/codeframe-sub003/internal/config"
	"github.com/frankbria/codeframe-sub003/internal/store"
	"github.com/frankbria/codeframe-sub003/pkg/blocker"
	"github.com/frankbria/codeframe-sub003/pkg/contextmgr"
	"github.com/frankbria/codeframe-sub003/pkg/evidence"
	"github.com/frankbria/codeframe-sub003/pkg/gates"
	"github.com/frankbria/codeframe-sub003/pkg/llm"
	"github.com/frankbria/codeframe-sub003/pkg/maturity"
	"github.com/frankbria/codeframe-sub003/pkg/models"
	"github.com/frankbria/codeframe-sub003/pkg/version"
	"github.com/frankbria/codeframe-sub003/pkg/worker"
)

// blockerSweepInterval is how often the blocker registry checks for
// stale PENDING blockers to auto-expire.
const blockerSweepInterval = 10 * time.Minute

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file",
		getEnv("ENV_FILE", ".env"),
		"Path to a .env file to load before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: could not load %s: %v", *envFile, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", *envFile)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting %s", version.Full())
	log.Printf("HTTP Port: %s", httpPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := store.Open(ctx, store.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL database")

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	providerClient := llm.NewAnthropicClient(&http.Client{Timeout: 2 * time.Minute}, apiKey)

	pricing, err := llm.LoadPricing(os.Getenv("MODEL_PRICING_FILE"))
	if err != nil {
		log.Fatalf("Failed to load model pricing: %v", err)
	}

	gateway := llm.New(providerClient,
		llm.WithRateLimit(cfg.AgentRateLimit),
		llm.WithMaxCostPerTask(cfg.MaxCostPerTask),
		llm.WithPricing(pricing),
		llm.WithAuditFunc(func(ev llm.AuditEvent) {
			if err := db.InsertAuditLog(context.Background(), models.AuditLog{
				ID:           uuid.NewString(),
				EventType:    "llm_call." + ev.Phase,
				ResourceType: "task",
				ResourceID:   ev.TaskID,
				Metadata: map[string]any{
					"agent_id":   ev.AgentID,
					"project_id": ev.ProjectID,
					"model":      ev.Model,
				},
				Timestamp: time.Now().UTC(),
			}); err != nil {
				log.Printf("audit log write failed: %v", err)
			}
		}),
	)

	pipeline := gates.New(gates.WithConfig(gates.Config{
		MinCoveragePercent:  cfg.MinCoverage,
		EnableSkipDetection: cfg.EnableSkipDetection,
		TestTimeout:         gates.DefaultTestTimeout,
		TypeCheckTimeout:    gates.DefaultTypeCheckTimeout,
		CoverageTimeout:     gates.DefaultCoverageTimeout,
		LintTimeout:         gates.DefaultLintTimeout,
	}))

	verifier := evidence.New(evidence.WithConfig(evidence.Config{
		RequireCoverage:   cfg.RequireCoverage,
		MinCoverage:       cfg.MinCoverage,
		AllowSkippedTests: cfg.AllowSkippedTests,
		MinPassRate:       cfg.MinPassRate,
	}))

	contextMgr := contextmgr.New(db, time.Minute)
	blockers := blocker.New(db)
	assessor := maturity.New(db, 5*time.Minute)

	blockers.Start(ctx, blockerSweepInterval)
	assessor.Start(ctx)
	defer blockers.Stop()
	defer assessor.Stop()

	agents := newAgentPool(ctx, db, gateway, pipeline, verifier, contextMgr, blockers, assessor)
	defer agents.stopContextSweep()

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := db.Conn().PingContext(reqCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unreachable",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"version":  version.Full(),
			"database": "connected",
			"config": gin.H{
				"agent_rate_limit":  cfg.AgentRateLimit,
				"max_cost_per_task": cfg.MaxCostPerTask,
				"min_coverage":      cfg.MinCoverage,
				"deployment_mode":   cfg.DeploymentMode,
			},
		})
	})

	router.POST("/agents/:agentID/tasks/:taskID/complete", func(c *gin.Context) {
		agentID := c.Param("agentID")
		taskID := c.Param("taskID")

		var body struct {
			ProjectRoot string `json:"project_root"`
		}
		_ = c.ShouldBindJSON(&body)

		task, err := db.GetTask(c.Request.Context(), taskID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		agentType := models.AgentTypeBackend
		if rec, err := db.GetAgent(c.Request.Context(), agentID); err == nil {
			agentType = rec.Type
		}

		agent := agents.get(agentID, agentType, task.ProjectID)
		result, err := agent.CompleteTask(c.Request.Context(), *task, body.ProjectRoot)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":    result.Success,
			"status":     result.Status,
			"message":    result.Message,
			"blocker_id": result.BlockerID,
			"evidence_id": result.EvidenceID,
		})
	})

	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}

// agentPool lazily constructs and caches one WorkerAgent per agent id, the
// way the orchestrator is expected to hand a single long-lived
// WorkerAgent to each registered agent identity rather than building a
// fresh one per request.
type agentPool struct {
	ctx        context.Context
	db         *store.DB
	gateway    *llm.Gateway
	pipeline   *gates.Pipeline
	verifier   *evidence.Verifier
	contextMgr *contextmgr.Manager
	blockers   *blocker.Registry
	assessor   *maturity.Assessor

	mu                sync.Mutex
	agents            map[string]*worker.WorkerAgent
	contextSweepStart bool
}

func newAgentPool(
	ctx context.Context,
	db *store.DB,
	gateway *llm.Gateway,
	pipeline *gates.Pipeline,
	verifier *evidence.Verifier,
	contextMgr *contextmgr.Manager,
	blockers *blocker.Registry,
	assessor *maturity.Assessor,
) *agentPool {
	return &agentPool{
		ctx:        ctx,
		db:         db,
		gateway:    gateway,
		pipeline:   pipeline,
		verifier:   verifier,
		contextMgr: contextMgr,
		blockers:   blockers,
		assessor:   assessor,
		agents:     make(map[string]*worker.WorkerAgent),
	}
}

// stopContextSweep stops the context manager's background recalculation
// loop if this pool ever started one.
func (p *agentPool) stopContextSweep() {
	p.mu.Lock()
	started := p.contextSweepStart
	p.mu.Unlock()
	if started {
		p.contextMgr.Stop()
	}
}

func (p *agentPool) get(agentID string, agentType models.AgentType, projectID string) *worker.WorkerAgent {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.agents[agentID]; ok {
		return a
	}
	a := worker.New(agentID, agentType, p.db, p.gateway, p.pipeline, p.verifier, p.contextMgr, p.blockers, p.assessor)
	p.agents[agentID] = a

	// contextmgr.Manager runs a single background recalculation loop
	// scoped to one (project, agent) pair (Start is a no-op once a
	// loop is running); start it against the first pair this pool
	// resolves so it isn't left permanently dead.
	if !p.contextSweepStart {
		p.contextSweepStart = true
		p.contextMgr.Start(p.ctx, projectID, agentID)
	}
	return a
}
