package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int
	DBQueryTimeoutMS int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GenerationTickMS      int
	GenerationMaxInFlight int
	GenerationLockTTLSec  int

	SyncMode bool

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Config{
		Env:                   envRaw,
		ServiceName:           serviceNameDefault,
		HTTPPort:              httpPortDefault,
		LogLevel:              "info",
		ConfigPath:            strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:      30000,
		OIDCIssuer:            strings.TrimSpace(os.Getenv("OIDC_ISSUER")),
		OIDCAudience:          strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")),
		OIDCJWKSURL:           strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")),
		JWKSTTLSeconds:        300,
		JWTClockSkewSec:       60,
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:            10,
		DBMinConns:            1,
		DBConnMaxIdleSec:      300,
		DBConnMaxLifeSec:      1800,
		DBQueryTimeoutMS:      5000,
		KafkaRetryMax:         5,
		KafkaWriteMS:          5000,
		GenerationTickMS:      50,
		GenerationMaxInFlight: 8,
		GenerationLockTTLSec:  30,
		InfluxTimeoutMS:       5000,
		OtelInsecure:          true,
		OtelSampleRatio:       1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	// If issuer is set and no explicit JWKS URL is provided, default to issuer/.well-known/jwks.json.
	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.JWKSTTLSeconds <= 0 {
		problems = append(problems, Problem{Field: "JWKS_CACHE_TTL_SECONDS", Message: "JWKS_CACHE_TTL_SECONDS must be > 0"})
		cfg.JWKSTTLSeconds = 300
	}
	if cfg.JWTClockSkewSec < 0 {
		problems = append(problems, Problem{Field: "JWT_CLOCK_SKEW_SECONDS", Message: "JWT_CLOCK_SKEW_SECONDS must be >= 0"})
		cfg.JWTClockSkewSec = 60
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.DBConnMaxIdleSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_IDLE_SECONDS", Message: "DB_CONN_MAX_IDLE_SECONDS must be > 0"})
		cfg.DBConnMaxIdleSec = 300
	}
	if cfg.DBConnMaxLifeSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_LIFETIME_SECONDS", Message: "DB_CONN_MAX_LIFETIME_SECONDS must be > 0"})
		cfg.DBConnMaxLifeSec = 1800
	}
	if cfg.DBQueryTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "DB_QUERY_TIMEOUT_MS", Message: "DB_QUERY_TIMEOUT_MS must be > 0"})
		cfg.DBQueryTimeoutMS = 5000
	}
	if cfg.KafkaRetryMax < 0 {
		problems = append(problems, Problem{Field: "KAFKA_RETRY_MAX", Message: "KAFKA_RETRY_MAX must be >= 0"})
		cfg.KafkaRetryMax = 5
	}
	if cfg.KafkaWriteMS <= 0 {
		problems = append(problems, Problem{Field: "KAFKA_WRITE_TIMEOUT_MS", Message: "KAFKA_WRITE_TIMEOUT_MS must be > 0"})
		cfg.KafkaWriteMS = 5000
	}
	if cfg.RedisDB < 0 {
		problems = append(problems, Problem{Field: "REDIS_DB", Message: "REDIS_DB must be >= 0"})
		cfg.RedisDB = 0
	}
	if cfg.GenerationTickMS <= 0 {
		problems = append(problems, Problem{Field: "GENERATION_TICK_MS", Message: "GENERATION_TICK_MS must be > 0"})
		cfg.GenerationTickMS = 50
	}
	if cfg.GenerationMaxInFlight <= 0 {
		problems = append(problems, Problem{Field: "GENERATION_MAX_INFLIGHT", Message: "GENERATION_MAX_INFLIGHT must be > 0"})
		cfg.GenerationMaxInFlight = 8
	}
	if cfg.GenerationLockTTLSec <= 0 {
		problems = append(problems, Problem{Field: "GENERATION_LOCK_TTL_SECONDS", Message: "GENERATION_LOCK_TTL_SECONDS must be > 0"})
		cfg.GenerationLockTTLSec = 30
	}
	if cfg.InfluxTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "INFLUX_TIMEOUT_MS", Message: "INFLUX_TIMEOUT_MS must be > 0"})
		cfg.InfluxTimeoutMS = 5000
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func loadConfigFile(path string) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
	kindFloat
	kindCSV
)

type fieldSpec struct {
	key  string
	kind fieldKind
	set  func(cfg *Config, v any)
}

// One spec per supported key, shared by the JSON config file and the
// environment. Keys absent from both sources keep their defaults.
func fieldSpecs() []fieldSpec {
	return []fieldSpec{
		{"ENV", kindString, func(c *Config, v any) { c.Env = v.(string) }},
		{"SERVICE_NAME", kindString, func(c *Config, v any) { c.ServiceName = v.(string) }},
		{"HTTP_PORT", kindInt, func(c *Config, v any) { c.HTTPPort = v.(int) }},
		{"LOG_LEVEL", kindString, func(c *Config, v any) { c.LogLevel = v.(string) }},
		{"REQUEST_TIMEOUT_MS", kindInt, func(c *Config, v any) { c.RequestTimeoutMS = v.(int) }},
		{"OIDC_ISSUER", kindString, func(c *Config, v any) { c.OIDCIssuer = v.(string) }},
		{"OIDC_AUDIENCE", kindString, func(c *Config, v any) { c.OIDCAudience = v.(string) }},
		{"OIDC_JWKS_URL", kindString, func(c *Config, v any) { c.OIDCJWKSURL = v.(string) }},
		{"JWKS_CACHE_TTL_SECONDS", kindInt, func(c *Config, v any) { c.JWKSTTLSeconds = v.(int) }},
		{"JWT_CLOCK_SKEW_SECONDS", kindInt, func(c *Config, v any) { c.JWTClockSkewSec = v.(int) }},
		{"DATABASE_URL", kindString, func(c *Config, v any) { c.DatabaseURL = v.(string) }},
		{"DB_MAX_CONNS", kindInt, func(c *Config, v any) { c.DBMaxConns = v.(int) }},
		{"DB_MIN_CONNS", kindInt, func(c *Config, v any) { c.DBMinConns = v.(int) }},
		{"DB_CONN_MAX_IDLE_SECONDS", kindInt, func(c *Config, v any) { c.DBConnMaxIdleSec = v.(int) }},
		{"DB_CONN_MAX_LIFETIME_SECONDS", kindInt, func(c *Config, v any) { c.DBConnMaxLifeSec = v.(int) }},
		{"DB_QUERY_TIMEOUT_MS", kindInt, func(c *Config, v any) { c.DBQueryTimeoutMS = v.(int) }},
		{"KAFKA_BROKERS", kindCSV, func(c *Config, v any) { c.KafkaBrokers = v.([]string) }},
		{"KAFKA_CLIENT_ID", kindString, func(c *Config, v any) { c.KafkaClientID = v.(string) }},
		{"KAFKA_CONSUMER_GROUP", kindString, func(c *Config, v any) { c.KafkaGroupID = v.(string) }},
		{"KAFKA_RETRY_MAX", kindInt, func(c *Config, v any) { c.KafkaRetryMax = v.(int) }},
		{"KAFKA_WRITE_TIMEOUT_MS", kindInt, func(c *Config, v any) { c.KafkaWriteMS = v.(int) }},
		{"REDIS_ADDR", kindString, func(c *Config, v any) { c.RedisAddr = v.(string) }},
		{"REDIS_PASSWORD", kindString, func(c *Config, v any) { c.RedisPassword = v.(string) }},
		{"REDIS_DB", kindInt, func(c *Config, v any) { c.RedisDB = v.(int) }},
		{"GENERATION_TICK_MS", kindInt, func(c *Config, v any) { c.GenerationTickMS = v.(int) }},
		{"GENERATION_MAX_INFLIGHT", kindInt, func(c *Config, v any) { c.GenerationMaxInFlight = v.(int) }},
		{"GENERATION_LOCK_TTL_SECONDS", kindInt, func(c *Config, v any) { c.GenerationLockTTLSec = v.(int) }},
		{"SYNC_MODE", kindBool, func(c *Config, v any) { c.SyncMode = v.(bool) }},
		{"INFLUX_URL", kindString, func(c *Config, v any) { c.InfluxURL = v.(string) }},
		{"INFLUX_TOKEN", kindString, func(c *Config, v any) { c.InfluxToken = v.(string) }},
		{"INFLUX_ORG", kindString, func(c *Config, v any) { c.InfluxOrg = v.(string) }},
		{"INFLUX_BUCKET", kindString, func(c *Config, v any) { c.InfluxBucket = v.(string) }},
		{"INFLUX_TIMEOUT_MS", kindInt, func(c *Config, v any) { c.InfluxTimeoutMS = v.(int) }},
		{"OTEL_ENABLED", kindBool, func(c *Config, v any) { c.OtelEnabled = v.(bool) }},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", kindString, func(c *Config, v any) { c.OtelEndpoint = v.(string) }},
		{"OTEL_EXPORTER_OTLP_INSECURE", kindBool, func(c *Config, v any) { c.OtelInsecure = v.(bool) }},
		{"OTEL_SAMPLE_RATIO", kindFloat, func(c *Config, v any) { c.OtelSampleRatio = v.(float64) }},
	}
}

func applyEnv(cfg *Config, problems *[]Problem) {
	for _, spec := range fieldSpecs() {
		raw := strings.TrimSpace(os.Getenv(spec.key))
		if raw == "" && spec.key == "HTTP_PORT" {
			raw = strings.TrimSpace(os.Getenv("PORT"))
		}
		if raw == "" {
			continue
		}
		applyValue(cfg, spec, raw, problems)
	}
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	specs := make(map[string]fieldSpec)
	for _, spec := range fieldSpecs() {
		specs[spec.key] = spec
	}
	for k, v := range raw {
		spec, ok := specs[strings.ToUpper(strings.TrimSpace(k))]
		if !ok {
			continue
		}
		applyValue(cfg, spec, v, problems)
	}
}

func applyValue(cfg *Config, spec fieldSpec, raw any, problems *[]Problem) {
	switch spec.kind {
	case kindString:
		if s, ok := raw.(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				spec.set(cfg, trimmed)
			}
		}
	case kindInt:
		if n, ok := asInt(raw); ok {
			spec.set(cfg, n)
		} else {
			*problems = append(*problems, Problem{Field: spec.key, Message: spec.key + " must be an integer"})
		}
	case kindBool:
		if b, ok := asBoolAny(raw); ok {
			spec.set(cfg, b)
		} else {
			*problems = append(*problems, Problem{Field: spec.key, Message: spec.key + " must be a boolean"})
		}
	case kindFloat:
		if f, ok := asFloat(raw); ok {
			spec.set(cfg, f)
		} else {
			*problems = append(*problems, Problem{Field: spec.key, Message: spec.key + " must be a number"})
		}
	case kindCSV:
		if s, ok := raw.(string); ok {
			spec.set(cfg, parseCSV(s))
		} else if arr, ok := raw.([]any); ok {
			spec.set(cfg, parseAnyCSV(arr))
		}
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asBoolAny(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return asBool(t)
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
