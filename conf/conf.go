package conf

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/kr/pretty"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

var (
	conf *Config
	once sync.Once
)

type Config struct {
	Env      string
	Hertz    Hertz    `yaml:"hertz"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Market   Market   `yaml:"market"`
	Engine   Engine   `yaml:"engine"`
	Registry Registry `yaml:"registry"`
}

type Hertz struct {
	Service         string `yaml:"service"`
	Address         string `yaml:"address"`
	EnablePprof     bool   `yaml:"enable_pprof"`
	EnableGzip      bool   `yaml:"enable_gzip"`
	EnableCors      bool   `yaml:"enable_cors"`
	EnableAccessLog bool   `yaml:"enable_access_log"`
	LogLevel        string `yaml:"log_level"`
	LogFileName     string `yaml:"log_file_name"`
	LogMaxSize      int    `yaml:"log_max_size"`
	LogMaxBackups   int    `yaml:"log_max_backups"`
	LogMaxAge       int    `yaml:"log_max_age"`
}

type Postgres struct {
	DSN string `yaml:"dsn" validate:"nonzero"`
}

type Redis struct {
	Address  string `yaml:"address" validate:"nonzero"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Kafka struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

// Market 交易时段与订单簿快照配置
type Market struct {
	OpenTime           string `yaml:"open_time"`  // HH:MM
	CloseTime          string `yaml:"close_time"` // HH:MM
	BandPercent        int    `yaml:"band_percent"`
	SnapshotTTLSeconds int    `yaml:"snapshot_ttl_seconds"`
}

// Engine 撮合 worker 与批量分配配置
type Engine struct {
	NodeID                string `yaml:"node_id"`
	Fundings              string `yaml:"fundings"` // 本节点负责的 funding 列表，逗号分隔
	EnginePort            int    `yaml:"engine_port"`
	MaxDrainIterations    int    `yaml:"max_drain_iterations"`
	InFlightMaxAgeSeconds int    `yaml:"in_flight_max_age_seconds"`
	SweepIntervalSeconds  int    `yaml:"sweep_interval_seconds"`
	AllocChunkSize        int    `yaml:"alloc_chunk_size"`
	AllocWorkers          int    `yaml:"alloc_workers"`
	AllocChunkTimeoutSec  int    `yaml:"alloc_chunk_timeout_seconds"`
}

type Registry struct {
	Enable          bool     `yaml:"enable"`
	RegistryAddress []string `yaml:"registry_address"`
}

// GetConf gets configuration instance
func GetConf() *Config {
	once.Do(initConf)
	return conf
}

func initConf() {
	prefix := "conf"
	confFileRelPath := filepath.Join(prefix, filepath.Join(GetEnv(), "conf.yaml"))
	content, err := os.ReadFile(confFileRelPath)
	if err != nil {
		panic(err)
	}

	conf = new(Config)
	err = yaml.Unmarshal(content, conf)
	if err != nil {
		hlog.Error("parse yaml error - %v", err)
		panic(err)
	}
	if err := validator.Validate(conf); err != nil {
		hlog.Error("validate config error - %v", err)
		panic(err)
	}

	conf.Env = GetEnv()

	pretty.Printf("%+v\n", conf)
}

func GetEnv() string {
	e := os.Getenv("GO_ENV")
	if len(e) == 0 {
		return "test"
	}
	return e
}

func LogLevel() hlog.Level {
	level := GetConf().Hertz.LogLevel
	switch level {
	case "trace":
		return hlog.LevelTrace
	case "debug":
		return hlog.LevelDebug
	case "info":
		return hlog.LevelInfo
	case "notice":
		return hlog.LevelNotice
	case "warn":
		return hlog.LevelWarn
	case "error":
		return hlog.LevelError
	case "fatal":
		return hlog.LevelFatal
	default:
		return hlog.LevelInfo
	}
}
