package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ssuji15/trainpool/model"
	"gopkg.in/yaml.v3"
)

const DefaultPort = 3075

type NatsConfig struct {
	URL               string
	TTL               int
	BUCKET_NAME       string
	BUCKET_SIZE_BYTES int
}

type RedisConfig struct {
	TTL            int
	ClientPassword string
	URL            string
}

type FreeCacheConfig struct {
	SIZE_BYTES int
	TTL        int
}

type MinioConfig struct {
	URL             string
	DATASETS_BUCKET string
	ACCESS_KEY      string
	SECRET_KEY      string
	USE_SSL         bool
}

type PostgresConfig struct {
	URL string
}

type SandboxConfig struct {
	SANDBOX_TYPE     string
	JOB_WAIT_TIMEOUT time.Duration
	IMAGE            string
	WORK_DIR         string
	RUNTIME          string
	SECCOMP_PROFILE  string
	CPU_QUOTA        int64
	MEMORY_LIMIT     int64
}

type ServerConfig struct {
	LISTEN_PORT              int
	ADMIN_ADDR               string
	NUMBER_OF_REMOTE_WORKERS int
	REMOTE_WORKER_TIMEOUT    time.Duration
	REMOTE_READ_TIMEOUT      time.Duration
	ADMISSION_POLL           time.Duration
}

type ClientConfig struct {
	REMOTE_SERVERS        []*model.RemoteServer
	REMOTE_PROCESSING     bool
	REMOTE_READ_TIMEOUT   time.Duration
	REMOTE_JOB_TIMEOUT    time.Duration
	REMOTE_POLL_INTERVAL  time.Duration
	REMOTE_INFLIGHT       int
	CONNECT_TIMEOUT       time.Duration
	CONNECT_RETRY_BACKOFF time.Duration
	NUM_SEEDED_HOSTS      int
	LOCAL_PARALLELISM     int
}

type Config struct {
	SERVICE_NAME string
	TRACE_URL    string
	CACHE_TYPE   string
	POSTGRES_URL string
}

func env(key string) string {
	v := os.Getenv(key)
	return v
}

// LoadDotEnv loads variables from path into the environment without
// overriding values that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %v", path, err)
	}
	return nil
}

func convertStringToInt(s string, key string) (int, error) {
	sInt, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("error initializing config with key: %s, err: %v", key, err)
	}
	return sInt, nil
}

func intOrDefault(key string, def int) (int, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	return convertStringToInt(v, key)
}

// durationOrDefault accepts a Go duration ("250ms") or a plain number of
// seconds.
func durationOrDefault(key string, def time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("error initializing config with key: %s, err: %v", key, err)
	}
	return d, nil
}

func boolOrDefault(key string, def bool) (bool, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	if v != "true" && v != "false" {
		return false, fmt.Errorf("KEY: %s is invalid", key)
	}
	return v == "true", nil
}

func GetConfig() (*Config, error) {
	sn := env("SERVICE_NAME")
	if sn == "" {
		return nil, fmt.Errorf("KEY: SERVICE_NAME is empty")
	}
	ct := env("CACHE_TYPE")
	if ct == "" {
		ct = "memory"
	}
	return &Config{
		SERVICE_NAME: sn,
		TRACE_URL:    env("TRACE_URL"),
		CACHE_TYPE:   ct,
		POSTGRES_URL: env("POSTGRES_URL"),
	}, nil
}

func GetSandboxConfig() (*SandboxConfig, error) {
	st := env("SANDBOX_TYPE")
	if st == "" {
		st = "process"
	}
	if st != "process" && st != "docker" {
		return nil, fmt.Errorf("KEY: SANDBOX_TYPE is invalid: %s", st)
	}
	timeout, err := durationOrDefault("JOB_WAIT_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	cfg := &SandboxConfig{
		SANDBOX_TYPE:     st,
		JOB_WAIT_TIMEOUT: timeout,
		IMAGE:            env("SANDBOX_IMAGE"),
		WORK_DIR:         env("SANDBOX_WORK_DIR"),
		RUNTIME:          env("SANDBOX_RUNTIME"),
		SECCOMP_PROFILE:  env("SECCOMP_PROFILE"),
		CPU_QUOTA:        100000,
		MEMORY_LIMIT:     512 * 1024 * 1024,
	}
	if st == "docker" {
		if cfg.IMAGE == "" {
			return nil, fmt.Errorf("KEY: SANDBOX_IMAGE is empty")
		}
		if cfg.WORK_DIR == "" {
			return nil, fmt.Errorf("KEY: SANDBOX_WORK_DIR is empty")
		}
	}
	if v := env("SANDBOX_MEMORY_LIMIT"); v != "" {
		ml, err := convertStringToInt(v, "SANDBOX_MEMORY_LIMIT")
		if err != nil {
			return nil, err
		}
		cfg.MEMORY_LIMIT = int64(ml)
	}
	return cfg, nil
}

func GetServerConfig() (*ServerConfig, error) {
	port, err := intOrDefault("LISTEN_PORT", DefaultPort)
	if err != nil {
		return nil, err
	}
	workers, err := intOrDefault("NUMBER_OF_REMOTE_WORKERS", 8)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		return nil, fmt.Errorf("KEY: NUMBER_OF_REMOTE_WORKERS must be > 0")
	}
	wt, err := durationOrDefault("REMOTE_WORKER_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	rt, err := durationOrDefault("REMOTE_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	ap, err := durationOrDefault("ADMISSION_POLL", time.Second)
	if err != nil {
		return nil, err
	}
	return &ServerConfig{
		LISTEN_PORT:              port,
		ADMIN_ADDR:               env("ADMIN_ADDR"),
		NUMBER_OF_REMOTE_WORKERS: workers,
		REMOTE_WORKER_TIMEOUT:    wt,
		REMOTE_READ_TIMEOUT:      rt,
		ADMISSION_POLL:           ap,
	}, nil
}

func GetClientConfig() (*ClientConfig, error) {
	servers, err := GetRemoteServers()
	if err != nil {
		return nil, err
	}
	remote, err := boolOrDefault("REMOTE_PROCESSING", false)
	if err != nil {
		return nil, err
	}
	cfg := &ClientConfig{
		REMOTE_SERVERS:    servers,
		REMOTE_PROCESSING: remote,
	}
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"REMOTE_READ_TIMEOUT", 60 * time.Second, &cfg.REMOTE_READ_TIMEOUT},
		{"REMOTE_JOB_TIMEOUT", 5 * time.Minute, &cfg.REMOTE_JOB_TIMEOUT},
		{"REMOTE_POLL_INTERVAL", 100 * time.Millisecond, &cfg.REMOTE_POLL_INTERVAL},
		{"CONNECT_TIMEOUT", 5 * time.Second, &cfg.CONNECT_TIMEOUT},
		{"CONNECT_RETRY_BACKOFF", time.Second, &cfg.CONNECT_RETRY_BACKOFF},
	}
	for _, d := range durations {
		v, err := durationOrDefault(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}
	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"REMOTE_INFLIGHT", 2 * len(servers), &cfg.REMOTE_INFLIGHT},
		{"NUM_SEEDED_HOSTS", 2, &cfg.NUM_SEEDED_HOSTS},
		{"LOCAL_PARALLELISM", 1, &cfg.LOCAL_PARALLELISM},
	}
	for _, i := range ints {
		v, err := intOrDefault(i.key, i.def)
		if err != nil {
			return nil, err
		}
		*i.dst = v
	}
	return cfg, nil
}

type serverFile struct {
	Servers []*model.RemoteServer `yaml:"servers"`
}

// GetRemoteServers reads the server list from REMOTE_SERVERS_FILE (YAML)
// and REMOTE_SERVERS ("name=host:port,host:port").
func GetRemoteServers() ([]*model.RemoteServer, error) {
	var servers []*model.RemoteServer
	if path := env("REMOTE_SERVERS_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read REMOTE_SERVERS_FILE: %w", err)
		}
		var f serverFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("unable to parse REMOTE_SERVERS_FILE: %w", err)
		}
		for i, s := range f.Servers {
			if s.Host == "" {
				return nil, fmt.Errorf("servers[%d]: host must not be empty", i)
			}
			if s.Port == 0 {
				s.Port = DefaultPort
			}
			servers = append(servers, model.NewRemoteServer(s.Name, s.Host, s.Port))
		}
	}
	list, err := ParseRemoteServers(env("REMOTE_SERVERS"))
	if err != nil {
		return nil, err
	}
	return append(servers, list...), nil
}

func ParseRemoteServers(s string) ([]*model.RemoteServer, error) {
	var servers []*model.RemoteServer
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name := ""
		if i := strings.Index(entry, "="); i >= 0 {
			name, entry = entry[:i], entry[i+1:]
		}
		host, portStr, err := net.SplitHostPort(entry)
		if err != nil {
			host, portStr = entry, strconv.Itoa(DefaultPort)
		}
		if host == "" {
			return nil, fmt.Errorf("invalid remote server %q: empty host", entry)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid remote server %q: bad port", entry)
		}
		servers = append(servers, model.NewRemoteServer(name, host, port))
	}
	return servers, nil
}

func GetNatsConfig() (*NatsConfig, error) {
	url := env("JETSTREAM_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_URL is empty")
	}
	ttl, err := intOrDefault("JETSTREAM_TTL", 0)
	if err != nil {
		return nil, err
	}
	bn := env("JETSTREAM_BUCKET_NAME")
	if bn == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_BUCKET_NAME is empty")
	}
	bs, err := convertStringToInt(env("JETSTREAM_BUCKET_SIZE"), "JETSTREAM_BUCKET_SIZE")
	if err != nil {
		return nil, err
	}
	return &NatsConfig{
		URL:               url,
		TTL:               ttl,
		BUCKET_NAME:       bn,
		BUCKET_SIZE_BYTES: bs,
	}, nil
}

func GetRedisConfig() (*RedisConfig, error) {
	ttl, err := intOrDefault("REDIS_TTL", 0)
	if err != nil {
		return nil, err
	}

	url := env("REDIS_ENDPOINT")
	if url == "" {
		return nil, fmt.Errorf("KEY: REDIS_ENDPOINT is empty")
	}

	return &RedisConfig{
		TTL:            ttl,
		ClientPassword: env("REDIS_CLIENT_PASSWORD"),
		URL:            url,
	}, nil
}

func GetFreeCacheConfig() (*FreeCacheConfig, error) {
	ttl, err := intOrDefault("FREECACHE_TTL", 0)
	if err != nil {
		return nil, err
	}
	fs, err := convertStringToInt(env("FREECACHE_SIZE"), "FREECACHE_SIZE")
	if err != nil {
		return nil, err
	}
	return &FreeCacheConfig{
		TTL:        ttl,
		SIZE_BYTES: fs,
	}, nil
}

func GetPostgresConfig() (*PostgresConfig, error) {
	url := env("POSTGRES_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: POSTGRES_URL is empty")
	}
	return &PostgresConfig{
		URL: url,
	}, nil
}

func GetMinioConfig() (*MinioConfig, error) {
	url := env("MINIO_ENDPOINT")
	if url == "" {
		return nil, fmt.Errorf("KEY: MINIO_ENDPOINT is empty")
	}

	db := env("MINIO_DATASETS_BUCKET")
	if db == "" {
		return nil, fmt.Errorf("KEY: MINIO_DATASETS_BUCKET is empty")
	}

	ssl := env("MINIO_USE_SSL")
	if ssl != "true" && ssl != "false" {
		return nil, fmt.Errorf("KEY: MINIO_USE_SSL is invalid")
	}

	ak := env("MINIO_ACCESS_KEY")
	if ak == "" {
		return nil, fmt.Errorf("KEY: MINIO_ACCESS_KEY is empty")
	}

	sk := env("MINIO_SECRET_KEY")
	if sk == "" {
		return nil, fmt.Errorf("KEY: MINIO_SECRET_KEY is empty")
	}

	return &MinioConfig{
		URL:             url,
		DATASETS_BUCKET: db,
		USE_SSL:         ssl == "true",
		ACCESS_KEY:      ak,
		SECRET_KEY:      sk,
	}, nil
}
