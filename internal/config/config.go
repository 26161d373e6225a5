package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		// memory | fs | redis | postgres
		Driver string `yaml:"driver"`
		FSRoot string `yaml:"fs_root"`
		DSN    string `yaml:"dsn"`
		Redis  struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	DNS struct {
		// Timeout por lookup TXT.
		Timeout string `yaml:"timeout"`
	} `yaml:"dns"`

	Challenge struct {
		TTL string `yaml:"ttl"`
	} `yaml:"challenge"`

	Session struct {
		TTL string `yaml:"ttl"`
		// Cadencia de re-verificación DNS de sesiones activas.
		RecheckInterval string `yaml:"recheck_interval"`
		// Secreto HMAC para los session tokens (base64 o texto plano).
		TokenSecret string `yaml:"token_secret"`
	} `yaml:"session"`

	Delivery struct {
		Timeout string `yaml:"timeout"`
		// Rutas candidatas en el dominio destino, en orden de preferencia.
		CallbackPaths []string `yaml:"callback_paths"`
	} `yaml:"delivery"`

	Rate struct {
		Enabled   bool `yaml:"enabled"`
		Challenge struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"challenge"`
	} `yaml:"rate"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"`                  // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`

	Notify struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notify"`

	Cluster struct {
		Mode          string            `yaml:"mode"` // off | embedded
		NodeID        string            `yaml:"node_id"`
		RaftAddr      string            `yaml:"raft_addr"`
		Nodes         map[string]string `yaml:"nodes"` // nodeID -> host:port (raft)
		SnapshotEvery int               `yaml:"snapshot_every"`
	} `yaml:"cluster"`
}

// Load lee el YAML, aplica defaults y overrides por env, y valida duraciones.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	// validate string durations
	for _, d := range []string{
		c.DNS.Timeout, c.Challenge.TTL, c.Session.TTL,
		c.Session.RecheckInterval, c.Delivery.Timeout, c.Rate.Challenge.Window,
	} {
		if d != "" {
			if _, err := time.ParseDuration(d); err != nil {
				return nil, err
			}
		}
	}

	// Normalizar fs_root (si relativa) respecto al directorio del YAML
	if p := strings.TrimSpace(c.Storage.FSRoot); p != "" && !filepath.IsAbs(p) {
		c.Storage.FSRoot = filepath.Clean(filepath.Join(filepath.Dir(path), p))
	}

	return &c, nil
}

// Default retorna una config con los defaults aplicados, sin leer archivo.
// Útil para tests y para cmds que operan sólo con env.
func Default() *Config {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()
	return &c
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.FSRoot == "" {
		c.Storage.FSRoot = "./data/cverify"
	}
	if c.DNS.Timeout == "" {
		c.DNS.Timeout = "10s"
	}
	if c.Challenge.TTL == "" {
		c.Challenge.TTL = "5m"
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "12h"
	}
	if c.Session.RecheckInterval == "" {
		c.Session.RecheckInterval = "5m"
	}
	if c.Delivery.Timeout == "" {
		c.Delivery.Timeout = "15s"
	}
	if len(c.Delivery.CallbackPaths) == 0 {
		c.Delivery.CallbackPaths = []string{
			"/cverify/callback.php",
			"/cverify/callback",
			"/api/cverify/callback",
		}
	}
	if c.Rate.Challenge.Limit == 0 {
		c.Rate.Challenge.Limit = 10
	}
	if c.Rate.Challenge.Window == "" {
		c.Rate.Challenge.Window = "1m"
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
	if strings.TrimSpace(c.Cluster.Mode) == "" {
		c.Cluster.Mode = "off"
	}
	if c.Cluster.Nodes == nil {
		c.Cluster.Nodes = map[string]string{}
	}
}

// Dur parsea una duración ya validada por Load. Ante valor vacío retorna def.
func Dur(s string, def time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_FS_ROOT"); ok {
		c.Storage.FSRoot = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Storage.Redis.Prefix = v
	}

	// PROTOCOL
	if v, ok := getEnvStr("DNS_TIMEOUT"); ok {
		c.DNS.Timeout = v
	}
	if v, ok := getEnvStr("CHALLENGE_TTL"); ok {
		c.Challenge.TTL = v
	}
	if v, ok := getEnvStr("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvStr("SESSION_RECHECK_INTERVAL"); ok {
		c.Session.RecheckInterval = v
	}
	if v, ok := getEnvStr("SESSION_TOKEN_SECRET"); ok {
		c.Session.TokenSecret = v
	}
	if v, ok := getEnvStr("DELIVERY_TIMEOUT"); ok {
		c.Delivery.Timeout = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_CHALLENGE_LIMIT"); ok {
		c.Rate.Challenge.Limit = v
	}
	if v, ok := getEnvStr("RATE_CHALLENGE_WINDOW"); ok {
		c.Rate.Challenge.Window = v
	}

	// SMTP / NOTIFY
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}
	if v, ok := getEnvBool("SMTP_INSECURE_SKIP_VERIFY"); ok {
		c.SMTP.InsecureSkipVerify = v
	}
	if v, ok := getEnvBool("NOTIFY_ENABLED"); ok {
		c.Notify.Enabled = v
	}

	// CLUSTER
	if v, ok := getEnvStr("CLUSTER_MODE"); ok {
		c.Cluster.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := getEnvStr("NODE_ID"); ok {
		c.Cluster.NodeID = strings.TrimSpace(v)
	}
	if v, ok := getEnvStr("RAFT_ADDR"); ok {
		c.Cluster.RaftAddr = strings.TrimSpace(v)
	}
	// CLUSTER_NODES="n1=127.0.0.1:8201;n2=127.0.0.1:8202"
	if s, ok := getEnvStr("CLUSTER_NODES"); ok {
		for k, v := range parseKVList(s, ";") {
			c.Cluster.Nodes[k] = v
		}
	}
	if v, ok := getEnvInt("RAFT_SNAPSHOT_EVERY"); ok {
		c.Cluster.SnapshotEvery = v
	}
}

// parse env of form "k1=v1<sep>k2=v2" into map
func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	out := map[string]string{}
	if s == "" {
		return out
	}
	for _, it := range strings.Split(s, sep) {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}
