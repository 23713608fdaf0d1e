package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const (
	PointerBackendPostgres = "postgres"
	PointerBackendDynamoDB = "dynamodb"
)

type Application struct {
	Host       string     `koanf:"host"`
	Listen     string     `koanf:"listen"`
	Database   Database   `koanf:"db"`
	Pointers   Pointers   `koanf:"pointers"`
	Projection Projection `koanf:"projection"`
	Feed       Feed       `koanf:"feed"`
	Calendar   Calendar   `koanf:"calendar"`
}

type Database struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`
}

// Pointers selects where group pointers are stored. Canonical records always live in Postgres.
type Pointers struct {
	Backend  string   `koanf:"backend"`
	DynamoDB DynamoDB `koanf:"dynamodb"`
}

type DynamoDB struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"`
	Table    string `koanf:"table"`
}

type Projection struct {
	// SyncRetries is how many times a failed pointer write is retried inline before it is
	// handed to the repair queue. 0 queues immediately.
	SyncRetries        int           `koanf:"sync_retries"`
	RetryBackoff       time.Duration `koanf:"retry_backoff"`
	FanoutConcurrency  int           `koanf:"fanout_concurrency"`
	RepairSchedule     string        `koanf:"repair_schedule"`
	RepairBatchSize    int           `koanf:"repair_batch_size"`
	MaxRepairAttempts  int           `koanf:"max_repair_attempts"`
	ReconcileSchedule  string        `koanf:"reconcile_schedule"`
	ReconcileBatchSize int           `koanf:"reconcile_batch_size"`
}

type Feed struct {
	DefaultLimit     int `koanf:"default_limit"`
	MaxLimit         int `koanf:"max_limit"`
	UnscheduledLimit int `koanf:"unscheduled_limit"`
}

type Calendar struct {
	MaxEvents int    `koanf:"max_events"`
	ProdId    string `koanf:"prod_id"`
}

func Defaults() Application {
	return Application{
		Host:   "http://localhost:3000",
		Listen: ":8181",
		Database: Database{
			Host:   "localhost",
			Port:   5432,
			User:   "hangouts",
			Pass:   "",
			Name:   "hangouts",
			Schema: "hangouts",
		},
		Pointers: Pointers{
			Backend: PointerBackendPostgres,
			DynamoDB: DynamoDB{
				Region: "us-east-1",
				Table:  "hangout_pointers",
			},
		},
		Projection: Projection{
			SyncRetries:        0,
			RetryBackoff:       200 * time.Millisecond,
			FanoutConcurrency:  8,
			RepairSchedule:     "@every 1m",
			RepairBatchSize:    50,
			MaxRepairAttempts:  8,
			ReconcileSchedule:  "@every 1h",
			ReconcileBatchSize: 200,
		},
		Feed: Feed{
			DefaultLimit:     20,
			MaxLimit:         100,
			UnscheduledLimit: 50,
		},
		Calendar: Calendar{
			MaxEvents: 500,
			ProdId:    "-//klokku//hangouts//EN",
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "HANGOUTS_",
		TransformFunc: func(k, v string) (string, any) {
			// HANGOUTS_DB_HOST -> db.host; double underscore keeps a literal underscore
			// so HANGOUTS_FEED_MAX__LIMIT -> feed.max_limit
			k = strings.ToLower(strings.TrimPrefix(k, "HANGOUTS_"))
			k = strings.ReplaceAll(k, "__", "\x00")
			k = strings.ReplaceAll(k, "_", ".")
			k = strings.ReplaceAll(k, "\x00", "_")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	return app, nil
}
