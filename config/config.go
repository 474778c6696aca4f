package config

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	App         App           `yaml:"app"`
	Server      Server        `yaml:"server"`
	Transcode   Transcode     `yaml:"transcode"`
	MinIOBucket string        `yaml:"minio_bucket"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

// Transcode bounds the pipeline. MaxParallelEncodes caps concurrent ffmpeg
// invocations across every job, not per job; EncodeTimeout is the per
// rendition deadline after which that rendition counts as failed.
type Transcode struct {
	DataDir            string        `yaml:"data_dir"`
	MaxParallelEncodes int           `yaml:"max_parallel_encodes"`
	EncodeTimeout      time.Duration `yaml:"encode_timeout"`
	FFmpegPath         string        `yaml:"ffmpeg_path"`
	FFprobePath        string        `yaml:"ffprobe_path"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetDefault("transcode.data_dir", "data")
	viper.SetDefault("transcode.max_parallel_encodes", 4)
	viper.SetDefault("transcode.encode_timeout", "15m")
	viper.SetDefault("transcode.ffmpeg_path", "ffmpeg")
	viper.SetDefault("transcode.ffprobe_path", "ffprobe")
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host: viper.GetString("rabbitmq_host"),
		Port: viper.GetInt("rabbitmq_port"),
		User: viper.GetString("rabbitmq_user"),
		Pass: viper.GetString("rabbitmq_pass"),
		Kind: viper.GetString("rabbitmq_kind"),
	}

	// The MinIO mirror is optional; without an endpoint the pipeline keeps
	// artifacts on the local filesystem only.
	var minioClient *minio.Client
	if url := viper.GetString("minio.url"); url != "" {
		minioClient, err = minio.New(url, &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: false,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Transcode: Transcode{
			DataDir:            viper.GetString("transcode.data_dir"),
			MaxParallelEncodes: viper.GetInt("transcode.max_parallel_encodes"),
			EncodeTimeout:      viper.GetDuration("transcode.encode_timeout"),
			FFmpegPath:         viper.GetString("transcode.ffmpeg_path"),
			FFprobePath:        viper.GetString("transcode.ffprobe_path"),
		},
		MinIOBucket: viper.GetString("minio.bucket"),
		DB:          db,
		Queue:       rabbitmq,
		Storage:     minioClient,
	}, nil
}
