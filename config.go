package tubcrawl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the configuration instance the rest of tubcrawl should access for
// global configuration values. See CrawlerConfig for available members.
var Config CrawlerConfig

// ConfigName is the path (can be relative or absolute) to the config file
// that should be read.
var ConfigName = "tubcrawl.yaml"

func init() {
	err := readConfig()
	if err != nil {
		if strings.Contains(err.Error(), "no such file or directory") {
			zap.L().Sugar().Infof("did not find config file %v, continuing with defaults", ConfigName)
		} else {
			panic(err.Error())
		}
	}
}

// CrawlerConfig defines the available global configuration parameters for
// tubcrawl. It reads values straight from the config file (tubcrawl.yaml by
// default). See SetDefaultConfig for the defaults.
type CrawlerConfig struct {
	Fetch struct {
		Timeout              string   `yaml:"timeout"`
		RenderTimeout        string   `yaml:"render_timeout"`
		Retries              int      `yaml:"retries"`
		RetriesIfStatus      []int    `yaml:"retries_if_status"`
		BackoffFactor        float64  `yaml:"backoff_factor"`
		RedirectionLimit     int      `yaml:"redirection_limit"`
		RandomSleepIntervalS [2]int   `yaml:"random_sleep_interval_seconds"`
		UserAgent            string   `yaml:"user_agent"`
		AcceptLanguage       string   `yaml:"accept_language"`
	} `yaml:"fetch"`

	Frontier struct {
		BatchSize              int    `yaml:"batch_size"`
		WorkerBatchSize        int    `yaml:"worker_batch_size"`
		MaxJobRequest          int    `yaml:"max_job_request"`
		Policy                 string `yaml:"policy"` // "top_k" or "host_fair"
		StalenessTimeout       string `yaml:"staleness_timeout"`
		LockRetries            int    `yaml:"lock_retries"`
		LockRetryInterval      string `yaml:"lock_retry_interval"`
		MasterHost             string `yaml:"master_host"`
		MasterPort             int    `yaml:"master_port"`
		MasterPassword         string `yaml:"master_password"`
		BlockedHosts           []string `yaml:"blocked_hosts"` // spec §4.5's host_not_blacklisted predicate
	} `yaml:"frontier"`

	Relevance struct {
		EnglishThresholdSingle float64  `yaml:"english_threshold_single"`
		EnglishThresholdMulti  float64  `yaml:"english_threshold_multi"`
		TopicWritingStyles     []string `yaml:"topic_writing_styles"`
		BlockedPatterns        []string `yaml:"blocked_patterns"`
		AlwaysKeep             []string `yaml:"always_keep"`
		BonusPatterns          []string `yaml:"bonus_patterns"`
		SeedPatterns           []string `yaml:"seed_patterns"`
		ExcludedExtensions     []string `yaml:"excluded_extensions"`
		LongWordThreshold      int      `yaml:"long_word_threshold"`
		SurroundingTextChars   int      `yaml:"surrounding_text_chars"`
	} `yaml:"relevance"`

	Importance struct {
		PageRankWeight     float64 `yaml:"page_rank_weight"`
		PageRankCap        float64 `yaml:"page_rank_cap"`
		MinSample          int     `yaml:"min_sample"`
		Theta              float64 `yaml:"theta"`
		SuccessBonus       float64 `yaml:"success_bonus"`
		SuccessPenalty     float64 `yaml:"success_penalty"`
		RelevantBonus      float64 `yaml:"relevant_bonus"`
		RelevantPenalty    float64 `yaml:"relevant_penalty"`
		MinPriorityFloor   float64 `yaml:"min_priority_floor"`
	} `yaml:"importance"`

	Ranking struct {
		NgramRangeMin         int                `yaml:"ngram_range_min"`
		NgramRangeMax         int                `yaml:"ngram_range_max"`
		FieldWeights          map[string]float64 `yaml:"field_weights"`
		PageRankMaxIterations int                `yaml:"page_rank_max_iterations"`
		PageRankTolerance     float64            `yaml:"page_rank_tolerance"`
	} `yaml:"ranking"`

	Store struct {
		DriverName string `yaml:"driver_name"`
		DSN        string `yaml:"dsn"`
	} `yaml:"store"`
}

// SetDefaultConfig resets Config to default values, regardless of what a
// config file on disk might later override.
func SetDefaultConfig() {
	Config = CrawlerConfig{}

	Config.Fetch.Timeout = "20s"
	Config.Fetch.RenderTimeout = "25s"
	Config.Fetch.Retries = 3
	Config.Fetch.RetriesIfStatus = []int{429, 500, 502, 503, 504}
	Config.Fetch.BackoffFactor = 0.5
	Config.Fetch.RedirectionLimit = 5
	Config.Fetch.RandomSleepIntervalS = [2]int{1, 4}
	Config.Fetch.UserAgent = "tubcrawl (+https://github.com/aksel-berge/tubcrawl)"
	Config.Fetch.AcceptLanguage = "en-US,en;q=0.9"

	Config.Frontier.BatchSize = 50
	Config.Frontier.WorkerBatchSize = 10
	Config.Frontier.MaxJobRequest = 100
	Config.Frontier.Policy = "top_k"
	Config.Frontier.StalenessTimeout = "30m"
	Config.Frontier.LockRetries = 5
	Config.Frontier.LockRetryInterval = "200ms"
	Config.Frontier.MasterHost = "localhost"
	Config.Frontier.MasterPort = 6000
	Config.Frontier.MasterPassword = ""
	Config.Frontier.BlockedHosts = nil

	Config.Relevance.EnglishThresholdSingle = 0.85
	Config.Relevance.EnglishThresholdMulti = 0.4
	Config.Relevance.TopicWritingStyles = []string{"tubingen", "tuebingen", "tübingen"}
	Config.Relevance.BlockedPatterns = []string{"/logout", "/login", "?session="}
	Config.Relevance.AlwaysKeep = nil
	Config.Relevance.BonusPatterns = nil
	Config.Relevance.SeedPatterns = nil
	Config.Relevance.ExcludedExtensions = []string{
		".jpg", ".jpeg", ".png", ".gif", ".svg", ".pdf", ".zip", ".mp4", ".mp3", ".css", ".js",
	}
	Config.Relevance.LongWordThreshold = 25
	Config.Relevance.SurroundingTextChars = 120

	Config.Importance.PageRankWeight = 5
	Config.Importance.PageRankCap = 5
	Config.Importance.MinSample = 5
	Config.Importance.Theta = 0.05
	Config.Importance.SuccessBonus = 3
	Config.Importance.SuccessPenalty = 5
	Config.Importance.RelevantBonus = 10
	Config.Importance.RelevantPenalty = 3
	Config.Importance.MinPriorityFloor = -20

	Config.Ranking.NgramRangeMin = 1
	Config.Ranking.NgramRangeMax = 1
	Config.Ranking.FieldWeights = map[string]float64{
		"title": 10, "meta_description": 5, "meta_keywords": 5, "meta_author": 5,
		"h1": 10, "h2": 8, "h3": 6, "h4": 4, "h5": 2, "h6": 1, "body": 1,
	}
	Config.Ranking.PageRankMaxIterations = 100
	Config.Ranking.PageRankTolerance = 1e-6

	Config.Store.DriverName = "sqlite"
	Config.Store.DSN = "tubcrawl.db"
}

// ReadConfigFile points ConfigName at path and reloads Config from it.
func ReadConfigFile(path string) error {
	ConfigName = path
	return readConfig()
}

func readConfig() error {
	SetDefaultConfig()

	data, err := os.ReadFile(ConfigName)
	if err != nil {
		return fmt.Errorf("failed to read config file (%v): %w", ConfigName, err)
	}
	if err := yaml.Unmarshal(data, &Config); err != nil {
		return fmt.Errorf("failed to unmarshal yaml from config file (%v): %w", ConfigName, err)
	}
	return assertConfigInvariants()
}

func assertConfigInvariants() error {
	var errs []string

	if _, err := time.ParseDuration(Config.Fetch.Timeout); err != nil {
		errs = append(errs, fmt.Sprintf("fetch.timeout failed to parse: %v", err))
	}
	if _, err := time.ParseDuration(Config.Fetch.RenderTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("fetch.render_timeout failed to parse: %v", err))
	}
	if _, err := time.ParseDuration(Config.Frontier.StalenessTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("frontier.staleness_timeout failed to parse: %v", err))
	}
	if Config.Frontier.Policy != "top_k" && Config.Frontier.Policy != "host_fair" {
		errs = append(errs, fmt.Sprintf("frontier.policy must be 'top_k' or 'host_fair', got %q", Config.Frontier.Policy))
	}
	if Config.Relevance.EnglishThresholdSingle < 0 || Config.Relevance.EnglishThresholdSingle > 1 {
		errs = append(errs, "relevance.english_threshold_single must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config error:\n\t%v", strings.Join(errs, "\n\t"))
	}
	return nil
}
