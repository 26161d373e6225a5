package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ma13w/cverify/internal/attest"
	"github.com/ma13w/cverify/internal/challenge"
	"github.com/ma13w/cverify/internal/cluster"
	"github.com/ma13w/cverify/internal/config"
	"github.com/ma13w/cverify/internal/crypto/canonical"
	"github.com/ma13w/cverify/internal/crypto/keys"
	"github.com/ma13w/cverify/internal/delivery"
	"github.com/ma13w/cverify/internal/dnsid"
	httpserver "github.com/ma13w/cverify/internal/http"
	"github.com/ma13w/cverify/internal/http/controllers"
	"github.com/ma13w/cverify/internal/http/router"
	"github.com/ma13w/cverify/internal/metrics"
	"github.com/ma13w/cverify/internal/notify"
	"github.com/ma13w/cverify/internal/observability/logger"
	"github.com/ma13w/cverify/internal/rate"
	"github.com/ma13w/cverify/internal/store"
	"github.com/ma13w/cverify/internal/store/core"
	fsstore "github.com/ma13w/cverify/internal/store/fs"
)

const version = "1.0.0"

func main() {
	var (
		configPath string
		envFile    string
	)

	root := &cobra.Command{
		Use:   "cverify",
		Short: "Attestation descentralizada de experiencia laboral con identidad por DNS",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				_ = godotenv.Load(envFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "ruta a config.yaml (opcional, env pisa valores)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "ruta a .env")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(keygenCmd())
	root.AddCommand(dnsCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(signCmd())
	root.AddCommand(verifyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, nil
	}
	return config.Load(path)
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el nodo cverify (API HTTP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       cfg.Log.Level,
				ServiceName: "cverify",
				Version:     version,
			})
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// storage: single-node según driver, o replicado por raft
			var (
				repo        core.Repository
				clusterInfo controllers.ClusterInfo
			)
			if cfg.Cluster.Mode == "embedded" {
				if cfg.Storage.FSRoot == "" {
					return fmt.Errorf("cluster embedded requiere storage.fs_root")
				}
				local, err := fsstore.New(cfg.Storage.FSRoot)
				if err != nil {
					return err
				}
				if err := metrics.RegisterRaft(nil); err != nil {
					return err
				}
				node, err := cluster.NewNode(cluster.NodeOptions{
					NodeID:        cfg.Cluster.NodeID,
					RaftAddr:      cfg.Cluster.RaftAddr,
					RaftDir:       filepath.Join(cfg.Storage.FSRoot, "raft"),
					FSM:           cluster.NewFSM(local),
					Peers:         cfg.Cluster.Nodes,
					SnapshotEvery: cfg.Cluster.SnapshotEvery,
				})
				if err != nil {
					return err
				}
				repo = cluster.NewStore(node, local)
				clusterInfo = node
			} else {
				if repo, err = store.New(ctx, cfg); err != nil {
					return err
				}
			}
			defer func() { _ = repo.Close() }()

			if err := metrics.Register(nil); err != nil {
				return err
			}

			resolver := dnsid.NewResolver(dnsid.NetLookuper{},
				dnsid.WithTimeout(config.Dur(cfg.DNS.Timeout, 10*time.Second)))

			tokens := challenge.NewTokenIssuer(cfg.Session.TokenSecret, "cverify")
			auth := challenge.New(resolver, repo, tokens,
				challenge.WithChallengeTTL(config.Dur(cfg.Challenge.TTL, 5*time.Minute)),
				challenge.WithSessionTTL(config.Dur(cfg.Session.TTL, 12*time.Hour)),
				challenge.WithRecheckInterval(config.Dur(cfg.Session.RecheckInterval, 5*time.Minute)),
			)
			engine := attest.NewEngine(resolver)
			courier := delivery.New(
				delivery.WithTimeout(config.Dur(cfg.Delivery.Timeout, 15*time.Second)),
				delivery.WithCallbackPaths(cfg.Delivery.CallbackPaths),
			)

			var notifier *notify.Notifier
			if cfg.Notify.Enabled {
				sender := notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
				sender.TLSMode = cfg.SMTP.TLS
				sender.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
				notifier = notify.New(sender)
			}

			var limiter rate.Limiter
			if cfg.Rate.Enabled {
				window := config.Dur(cfg.Rate.Challenge.Window, time.Minute)
				if cfg.Storage.Driver == "redis" {
					// ventana compartida entre instancias
					client := rdb.NewClient(&rdb.Options{Addr: cfg.Storage.Redis.Addr, DB: cfg.Storage.Redis.DB})
					limiter = rate.NewRedisLimiter(client, cfg.Storage.Redis.Prefix+"rl:", cfg.Rate.Challenge.Limit, window)
				} else {
					limiter = rate.NewMemoryLimiter(cfg.Rate.Challenge.Limit, window)
				}
			}

			challengeCtrl := &controllers.ChallengeController{Auth: auth, Tokens: tokens, Notifier: notifier}
			handler := router.New(router.Deps{
				Identity:    &controllers.IdentityController{Resolver: resolver},
				Challenge:   challengeCtrl,
				Attestation: &controllers.AttestationController{
					Engine:   engine,
					Sessions: challengeCtrl,
					Repo:     repo,
					Courier:  courier,
					Notifier: notifier,
				},
				Health:           &controllers.HealthController{Version: version, Cluster: clusterInfo},
				ChallengeLimiter: limiter,
			})

			return httpserver.Serve(ctx, cfg.Server.Addr, handler)
		},
	}
}

func keygenCmd() *cobra.Command {
	var (
		bits       int
		outDir     string
		passphrase string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera un par de claves RSA y reporta el fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				passphrase = os.Getenv("CVERIFY_PASSPHRASE")
			}
			pair, err := keys.Generate(bits, passphrase)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(outDir, "private.pem"), []byte(pair.PrivatePEM), 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(outDir, "public.pem"), []byte(pair.PublicPEM), 0o644); err != nil {
				return err
			}
			fmt.Printf("bits: %d\nfingerprint: %s\nprivate: %s\npublic: %s\n",
				pair.Bits, pair.Fingerprint,
				filepath.Join(outDir, "private.pem"), filepath.Join(outDir, "public.pem"))
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", keys.DefaultBits, "tamaño de la clave RSA")
	cmd.Flags().StringVar(&outDir, "out", ".", "directorio de salida")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase para sellar la privada (env CVERIFY_PASSPHRASE)")
	return cmd
}

func dnsCmd() *cobra.Command {
	var pubFile string
	cmd := &cobra.Command{
		Use:   "dns",
		Short: "Imprime los registros TXT a publicar para una clave pública",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(pubFile)
			if err != nil {
				return err
			}
			pub := string(raw)
			fp, err := keys.Fingerprint(pub)
			if err != nil {
				return err
			}
			records, err := dnsid.KeyRecords(pub)
			if err != nil {
				return err
			}
			fmt.Printf("%q\n", dnsid.IdentityRecord(fp))
			for _, rec := range records {
				fmt.Printf("%q\n", rec)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pubFile, "pubkey", "public.pem", "archivo PEM de la clave pública")
	return cmd
}

func resolveCmd() *cobra.Command {
	var fingerprint string
	cmd := &cobra.Command{
		Use:   "resolve <domain>",
		Short: "Resuelve y verifica la identidad DNS publicada de un dominio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := dnsid.NewResolver(dnsid.NetLookuper{})
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			v, err := resolver.VerifyDomain(ctx, args[0], fingerprint)
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	}
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "fingerprint esperado (opcional)")
	return cmd
}

func signCmd() *cobra.Command {
	var (
		keyFile    string
		passphrase string
	)
	cmd := &cobra.Command{
		Use:   "sign <payload.json>",
		Short: "Firma un payload JSON en forma canónica (p.ej. un challenge)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var payload map[string]any
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("payload inválido: %w", err)
			}
			priv, err := os.ReadFile(keyFile)
			if err != nil {
				return err
			}
			if passphrase == "" {
				passphrase = os.Getenv("CVERIFY_PASSPHRASE")
			}
			sig, err := canonical.Sign(payload, string(priv), passphrase)
			if err != nil {
				return err
			}
			fmt.Println(sig)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "private.pem", "archivo PEM de la clave privada")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase de la privada (env CVERIFY_PASSPHRASE)")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <attestation.json>",
		Short: "Re-verifica un documento de attestation (firma + DNS)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var doc attest.Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("documento inválido: %w", err)
			}
			engine := attest.NewEngine(dnsid.NewResolver(dnsid.NetLookuper{}))
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := engine.Verify(ctx, &doc)
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.SignatureValid {
				os.Exit(2)
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
