// Package config reads the flat environment-variable knobs that govern
// thread counts, filesystem layout, work mode, and per-component limits.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// WorkMode selects how the process establishes its cgroup root.
type WorkMode string

const (
	WorkModeBare                   WorkMode = "bare"
	WorkModeBareSystemd            WorkMode = "bare-systemd"
	WorkModeContainerized          WorkMode = "containerized"
	WorkModeRootlessContainerized  WorkMode = "rootless-containerized"
)

// Config holds every environment-derived knob the engine needs.
type Config struct {
	RunnerThreads int

	RootDir string
	TmpDir  string

	SkopeoPath string
	UmociPath  string
	RunjPath   string

	WorkMode WorkMode

	AddFileCacheSizeMiB int
	AddFileCacheTTLHour int

	PullImageTimeoutSeconds   int
	UnpackImageTimeoutSeconds int
	PreloadImages             []string

	ArtifactCacheSizeMiB int
	ArtifactCacheTTLHour int

	ImageEvictionTTLMinute      int
	ImageEvictionIntervalMinute int
	ImageEvictionCapacity       int

	SubmissionEvictionTTLMinute      int
	SubmissionEvictionIntervalMinute int
	SubmissionEvictionCapacity       int

	StrictInvariants bool
}

// Load reads every knob from the environment, applying the documented
// defaults, and validates the hard minimum of 3 total CPUs.
func Load() (*Config, error) {
	ncpu := runtime.NumCPU()
	defaultRunner := ncpu - 2
	if defaultRunner < 1 {
		defaultRunner = 1
	}

	c := &Config{
		RunnerThreads: envInt("SWARM_RUNNER_THREADS", defaultRunner),

		RootDir: envStr("SWARM_ROOT_DIR", "/var/lib/judgeorch"),
		TmpDir:  envStr("SWARM_TMP_DIR", "/tmp/judgeorch"),

		SkopeoPath: envStr("SWARM_SKOPEO_PATH", "skopeo"),
		UmociPath:  envStr("SWARM_UMOCI_PATH", "umoci"),
		RunjPath:   envStr("SWARM_RUNJ_PATH", "runj"),

		WorkMode: WorkMode(envStr("SWARM_WORK_MODE", string(WorkModeBare))),

		AddFileCacheSizeMiB: envInt("SWARM_ADD_FILE_CACHE_SIZE_MIB", 256),
		AddFileCacheTTLHour: envInt("SWARM_ADD_FILE_CACHE_TTL_HOUR", 24),

		PullImageTimeoutSeconds:   envInt("SWARM_PULL_IMAGE_TIMEOUT_SECONDS", 180),
		UnpackImageTimeoutSeconds: envInt("SWARM_UNPACK_IMAGE_TIMEOUT_SECONDS", 120),
		PreloadImages:             envList("SWARM_PRELOAD_IMAGES"),

		ArtifactCacheSizeMiB: envInt("SWARM_ARTIFACT_CACHE_SIZE_MIB", 1024),
		ArtifactCacheTTLHour: envInt("SWARM_ARTIFACT_CACHE_TTL_HOUR", 24),

		ImageEvictionTTLMinute:      envInt("SWARM_IMAGE_EVICTION_TTL_MINUTE", 1440),
		ImageEvictionIntervalMinute: envInt("SWARM_IMAGE_EVICTION_INTERVAL_MINUTE", 30),
		ImageEvictionCapacity:       envInt("SWARM_IMAGE_EVICTION_CAPACITY", 64),

		SubmissionEvictionTTLMinute:      envInt("SWARM_SUBMISSION_EVICTION_TTL_MINUTE", 60),
		SubmissionEvictionIntervalMinute: envInt("SWARM_SUBMISSION_EVICTION_INTERVAL_MINUTE", 5),
		SubmissionEvictionCapacity:       envInt("SWARM_SUBMISSION_EVICTION_CAPACITY", 512),

		StrictInvariants: envBool("SWARM_STRICT_INVARIANTS", true),
	}

	switch c.WorkMode {
	case WorkModeBare, WorkModeBareSystemd, WorkModeContainerized, WorkModeRootlessContainerized:
	default:
		return nil, fmt.Errorf("unknown SWARM_WORK_MODE: %s", c.WorkMode)
	}

	if ncpu < 3 {
		return nil, fmt.Errorf("at least 3 CPUs are required, host has %d", ncpu)
	}

	return c, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
