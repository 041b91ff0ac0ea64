package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/medicrypt/medicrypt/internal/adapters/content"
	sqliteadapter "github.com/medicrypt/medicrypt/internal/adapters/db/sqlite"
	httpadapter "github.com/medicrypt/medicrypt/internal/adapters/http"
	"github.com/medicrypt/medicrypt/internal/adapters/ledger/evm"
	"github.com/medicrypt/medicrypt/internal/adapters/ledger/memledger"
	rpcadapter "github.com/medicrypt/medicrypt/internal/adapters/rpcjson"
	"github.com/medicrypt/medicrypt/internal/application"
	"github.com/medicrypt/medicrypt/internal/auth"
	"github.com/medicrypt/medicrypt/internal/domain"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "medicrypt",
		Usage: "Encrypted medical record access server and CLI",
		Commands: []*cli.Command{
			serverCommand(),
			authCommand(),
			recordsCommand(),
			accessCommand(),
			ledgerCommand(),
			auditCommand(),
			opsCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

type serverConfig struct {
	Addr            string
	RPCSocket       string
	DBPath          string
	JWTSecret       string
	Ledger          string
	ChainRPCURL     string
	ContractAddress string
	ServiceKey      string
	LedgerTimeout   time.Duration
	ContentStore    string
	PinataPinURL    string
	PinataGateway   string
	PinataAPIKey    string
	PinataAPISecret string
	SkipSIWEVerify  bool
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP server and operator socket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "HTTP listen address", Sources: cli.EnvVars("MEDICRYPT_ADDR")},
			&cli.StringFlag{Name: "rpc-socket", Value: "/tmp/medicrypt.sock", Usage: "operator JSON-RPC unix socket path", Sources: cli.EnvVars("MEDICRYPT_RPC_SOCKET")},
			&cli.StringFlag{Name: "db-path", Value: "medicrypt.db", Usage: "SQLite database path", Sources: cli.EnvVars("MEDICRYPT_DB_PATH")},
			&cli.StringFlag{Name: "jwt-secret", Required: true, Usage: "HMAC secret for session tokens", Sources: cli.EnvVars("MEDICRYPT_JWT_SECRET")},
			&cli.StringFlag{Name: "ledger", Value: "evm", Usage: "ledger backend: evm or memory", Sources: cli.EnvVars("MEDICRYPT_LEDGER")},
			&cli.StringFlag{Name: "chain-rpc-url", Usage: "EVM JSON-RPC endpoint", Sources: cli.EnvVars("MEDICRYPT_CHAIN_RPC_URL")},
			&cli.StringFlag{Name: "contract-address", Usage: "record registry contract address", Sources: cli.EnvVars("MEDICRYPT_CONTRACT_ADDRESS")},
			&cli.StringFlag{Name: "service-key", Usage: "hex private key of the service wallet", Sources: cli.EnvVars("MEDICRYPT_SERVICE_KEY")},
			&cli.DurationFlag{Name: "ledger-timeout", Value: evm.DefaultCallTimeout, Usage: "per-call ledger deadline", Sources: cli.EnvVars("MEDICRYPT_LEDGER_TIMEOUT")},
			&cli.StringFlag{Name: "content-store", Value: "pinata", Usage: "content backend: pinata or memory", Sources: cli.EnvVars("MEDICRYPT_CONTENT_STORE")},
			&cli.StringFlag{Name: "pinata-pin-url", Value: "https://api.pinata.cloud/pinning/pinFileToIPFS", Sources: cli.EnvVars("MEDICRYPT_PINATA_PIN_URL")},
			&cli.StringFlag{Name: "pinata-gateway", Value: "https://gateway.pinata.cloud", Sources: cli.EnvVars("MEDICRYPT_PINATA_GATEWAY")},
			&cli.StringFlag{Name: "pinata-api-key", Sources: cli.EnvVars("MEDICRYPT_PINATA_API_KEY")},
			&cli.StringFlag{Name: "pinata-api-secret", Sources: cli.EnvVars("MEDICRYPT_PINATA_API_SECRET")},
			&cli.BoolFlag{Name: "insecure-skip-siwe-verify", Usage: "accept any signature; dev only", Sources: cli.EnvVars("MEDICRYPT_INSECURE_SKIP_SIWE_VERIFY")},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx, serverConfig{
				Addr:            c.String("addr"),
				RPCSocket:       c.String("rpc-socket"),
				DBPath:          c.String("db-path"),
				JWTSecret:       c.String("jwt-secret"),
				Ledger:          c.String("ledger"),
				ChainRPCURL:     c.String("chain-rpc-url"),
				ContractAddress: c.String("contract-address"),
				ServiceKey:      c.String("service-key"),
				LedgerTimeout:   c.Duration("ledger-timeout"),
				ContentStore:    c.String("content-store"),
				PinataPinURL:    c.String("pinata-pin-url"),
				PinataGateway:   c.String("pinata-gateway"),
				PinataAPIKey:    c.String("pinata-api-key"),
				PinataAPISecret: c.String("pinata-api-secret"),
				SkipSIWEVerify:  c.Bool("insecure-skip-siwe-verify"),
			})
		},
	}
}

func runServer(ctx context.Context, cfg serverConfig) error {
	db, err := sqliteadapter.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return err
	}

	ledger, err := buildLedger(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := buildContentStore(cfg)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenAuthority(cfg.JWTSecret)
	if err != nil {
		return err
	}
	if cfg.SkipSIWEVerify {
		log.Printf("WARNING: SIWE signature verification is disabled")
	}

	service := application.NewRecordService(
		sqliteadapter.NewRecordRepository(db),
		ledger,
		store,
		tokens,
		auth.SIWEVerifier{SkipVerify: cfg.SkipSIWEVerify},
	)

	router := httpadapter.NewRouter(service)
	srv := &http.Server{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(cfg.RPCSocket, service)
	if err != nil {
		return err
	}
	defer func() {
		_ = rpcSrv.Close()
	}()
	log.Printf("operator socket listening on unix://%s", cfg.RPCSocket)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLedger(ctx context.Context, cfg serverConfig) (domain.Ledger, error) {
	switch cfg.Ledger {
	case "memory":
		log.Printf("using in-process ledger; chain writes are not durable")
		return memledger.New(), nil
	case "evm":
		return evm.Dial(ctx, evm.Config{
			RPCURL:          cfg.ChainRPCURL,
			ContractAddress: cfg.ContractAddress,
			ServiceKeyHex:   cfg.ServiceKey,
			CallTimeout:     cfg.LedgerTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger)
	}
}

func buildContentStore(cfg serverConfig) (domain.ContentStore, error) {
	switch cfg.ContentStore {
	case "memory":
		log.Printf("using in-memory content store; uploads are not durable")
		return content.NewMemoryStore(), nil
	case "pinata":
		return content.NewPinataStore(content.PinataConfig{
			PinURL:     cfg.PinataPinURL,
			GatewayURL: cfg.PinataGateway,
			APIKey:     cfg.PinataAPIKey,
			APISecret:  cfg.PinataAPISecret,
		})
	default:
		return nil, fmt.Errorf("unknown content store %q", cfg.ContentStore)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authentication commands",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Sign in with a wallet and store the CLI token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Value: "http://127.0.0.1:8080"},
					&cli.StringFlag{Name: "wallet", Required: true},
					&cli.StringFlag{Name: "message", Required: true, Usage: "signed message"},
					&cli.StringFlag{Name: "signature", Required: true, Usage: "hex EIP-191 signature"},
					&cli.StringFlag{Name: "role", Value: "patient", Usage: "role used on first login"},
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "email"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{Server: c.String("server")}
					var out struct {
						User  userView `json:"user"`
						Token string   `json:"token"`
					}
					err := doLogin(ctx, cfg, map[string]any{
						"wallet":    c.String("wallet"),
						"message":   c.String("message"),
						"signature": c.String("signature"),
						"role":      c.String("role"),
						"name":      c.String("name"),
						"email":     c.String("email"),
					}, &out)
					if err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("logged in as %s (%s)\n", out.User.Wallet, out.User.Role)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show current authenticated user",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out userView
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{{"id", out.ID}, {"wallet", out.Wallet}, {"role", out.Role}, {"name", out.Name}})
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Clear local CLI auth token",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func recordsCommand() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "Medical record commands",
		Commands: []*cli.Command{
			{
				Name:  "upload",
				Usage: "Encrypt and upload a record file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Required: true, Usage: "path to the file"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out uploadView
					if err := doRecordUpload(ctx, cfg, c.String("file"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUploadResult(out)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List my records",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []recordView
					if err := doRecordsList(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRecords(out)
					return nil
				},
			},
			{
				Name:  "get",
				Usage: "Show a record's metadata",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out recordView
					if err := doRecordGet(ctx, cfg, c.String("id"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRecords([]recordView{out})
					return nil
				},
			},
			{
				Name:  "download",
				Usage: "Download a record's sealed envelope",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "out", Required: true, Usage: "output file path"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					n, err := doRecordDownload(ctx, cfg, c.String("id"), c.String("out"))
					if err != nil {
						return err
					}
					fmt.Printf("wrote %d bytes to %s\n", n, c.String("out"))
					return nil
				},
			},
		},
	}
}

func accessCommand() *cli.Command {
	return &cli.Command{
		Name:  "access",
		Usage: "Access request commands",
		Commands: []*cli.Command{
			{
				Name:  "request",
				Usage: "File an access request for a record",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "record-id", Required: true},
					&cli.StringFlag{Name: "patient-wallet", Usage: "expected record owner; cross-checked server side"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out requestOutcomeView
					err = doAccessRequest(ctx, cfg, c.String("record-id"), c.String("patient-wallet"), &out)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRequestOutcome(out)
					return nil
				},
			},
			{
				Name:  "respond",
				Usage: "Approve or deny a pending request",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "decision", Required: true, Usage: "approve or deny"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out requestOutcomeView
					err = doAccessRespond(ctx, cfg, c.String("id"), c.String("decision"), &out)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRequestOutcome(out)
					return nil
				},
			},
			{
				Name:  "revoke",
				Usage: "Revoke an approved request",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out requestView
					if err := doAccessSimple(ctx, cfg, c.String("id"), "revoke", &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRequests([]requestView{out})
					return nil
				},
			},
			{
				Name:  "reopen",
				Usage: "Return a denied or revoked request to pending",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out requestView
					if err := doAccessSimple(ctx, cfg, c.String("id"), "reopen", &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRequests([]requestView{out})
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List access requests visible to me",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []requestView
					if err := doAccessList(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRequests(out)
					return nil
				},
			},
		},
	}
}

func ledgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "On-chain pointer commands",
		Commands: []*cli.Command{
			{
				Name:  "pointer",
				Usage: "Show my latest on-chain record pointer",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out pointerView
					if err := doLedgerPointer(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{{"wallet", out.Wallet}, {"cid", out.CID}})
					return nil
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit trail commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List my audit trail",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []auditView
					if err := doAuditList(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditLogs(out)
					return nil
				},
			},
		},
	}
}

// opsCommand talks to the local operator socket instead of the HTTP API.
func opsCommand() *cli.Command {
	socketFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "socket", Value: "/tmp/medicrypt.sock", Sources: cli.EnvVars("MEDICRYPT_RPC_SOCKET")}
	}
	return &cli.Command{
		Name:  "ops",
		Usage: "Operator commands over the local unix socket",
		Commands: []*cli.Command{
			{
				Name:  "ping",
				Usage: "Check the operator socket",
				Flags: []cli.Flag{socketFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out map[string]any
					if err := newRPCClient(c.String("socket")).call(ctx, "health.ping", map[string]any{}, &out); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
			{
				Name:  "access-list",
				Usage: "List all access requests",
				Flags: []cli.Flag{socketFlag(), &cli.IntFlag{Name: "limit", Value: 100}},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out json.RawMessage
					if err := newRPCClient(c.String("socket")).call(ctx, "access.list", map[string]any{"limit": c.Int("limit")}, &out); err != nil {
						return err
					}
					return printJSON(out)
				},
			},
			{
				Name:  "audit-list",
				Usage: "List all audit logs",
				Flags: []cli.Flag{socketFlag(), &cli.IntFlag{Name: "limit", Value: 100}},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out json.RawMessage
					if err := newRPCClient(c.String("socket")).call(ctx, "audit.list", map[string]any{"limit": c.Int("limit")}, &out); err != nil {
						return err
					}
					return printJSON(out)
				},
			},
			{
				Name:  "pointer",
				Usage: "Read the on-chain pointer for a wallet",
				Flags: []cli.Flag{socketFlag(), &cli.StringFlag{Name: "wallet", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					var out pointerView
					if err := newRPCClient(c.String("socket")).call(ctx, "ledger.pointer", map[string]any{"wallet": c.String("wallet")}, &out); err != nil {
						return err
					}
					printKV([][2]string{{"wallet", out.Wallet}, {"cid", out.CID}})
					return nil
				},
			},
		},
	}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
