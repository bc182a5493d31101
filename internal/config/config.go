package config

import "time"

// Config is the full runtime configuration of the capture-and-verify pipeline.
type Config struct {
	ListenAddr string

	Backend  Backend
	Capture  Capture
	Packager Packager
	Camera   Camera

	// MatchThreshold is the minimum similarity accepted as a positive identification.
	MatchThreshold float64

	DatabaseDSN string
	RedisAddr   string

	JWTSecret      string
	JWTAudience    string
	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string
	LogFile  string
}

// Backend describes the remote verification service.
type Backend struct {
	URL              string
	EnrollPath       string
	AuthenticatePath string
	// JWTSecret signs a short-lived bearer token on every submission when set.
	JWTSecret           string
	EnrollTimeout       time.Duration
	AuthenticateTimeout time.Duration
	// Schema selects the response adapter: coded, single-match or flat-list.
	Schema string
}

// Capture holds burst timing.
type Capture struct {
	BurstSize      int
	FrameDelay     time.Duration
	PreRollSeconds int
}

// Packager holds compression parameters.
type Packager struct {
	MaxEdge   int
	Quality   float64
	ChunkSize int
}

// Camera selects and configures the capture platform.
type Camera struct {
	// Source is v4l2 (local ffmpeg) or agent (remote gRPC camera agent).
	Source     string
	AgentAddr  string
	FFmpegPath string
	Width      int
	Height     int
}

// FromEnv builds a Config from the process environment, applying defaults.
func FromEnv() Config {
	return Config{
		ListenAddr: GetEnv("LISTEN_ADDR", ":8080"),
		Backend: Backend{
			URL:                 GetEnv("BACKEND_URL", "http://localhost:5000"),
			EnrollPath:          GetEnv("BACKEND_ENROLL_PATH", "/api/v1/enroll"),
			AuthenticatePath:    GetEnv("BACKEND_AUTHENTICATE_PATH", "/api/v1/authenticate"),
			JWTSecret:           GetEnv("BACKEND_JWT_SECRET", ""),
			EnrollTimeout:       GetEnvDuration("ENROLL_TIMEOUT", 200*time.Second),
			AuthenticateTimeout: GetEnvDuration("AUTH_TIMEOUT", 200*time.Second),
			Schema:              GetEnv("RESPONSE_SCHEMA", "coded"),
		},
		Capture: Capture{
			BurstSize:      GetEnvInt("BURST_SIZE", 6),
			FrameDelay:     GetEnvDuration("FRAME_DELAY", 50*time.Millisecond),
			PreRollSeconds: GetEnvInt("PREROLL_SECONDS", 3),
		},
		Packager: Packager{
			MaxEdge:   GetEnvInt("MAX_EDGE", 1024),
			Quality:   GetEnvFloat("JPEG_QUALITY", 0.95),
			ChunkSize: GetEnvInt("CHUNK_SIZE", 3),
		},
		Camera: Camera{
			Source:     GetEnv("CAMERA_SOURCE", "v4l2"),
			AgentAddr:  GetEnv("CAMERA_AGENT_ADDR", "localhost:50051"),
			FFmpegPath: GetEnv("FFMPEG_PATH", "ffmpeg"),
			Width:      GetEnvInt("CAMERA_WIDTH", 1280),
			Height:     GetEnvInt("CAMERA_HEIGHT", 720),
		},
		MatchThreshold: GetEnvFloat("MATCH_THRESHOLD", 0.70),
		DatabaseDSN:    GetEnv("DATABASE_DSN", ""),
		RedisAddr:      GetEnv("REDIS_ADDR", ""),
		JWTSecret:      GetEnv("JWT_SECRET", ""),
		JWTAudience:    GetEnv("JWT_AUDIENCE", ""),
		RateLimitRPS:   GetEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: GetEnvInt("RATE_LIMIT_BURST", 20),
		LogLevel:       GetEnv("LOG_LEVEL", "info"),
		LogFile:        GetEnv("LOG_FILE", ""),
	}
}
