package capability

import (
	"context"
	"log"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/codebuildervaibhav/transcribrr/internal/config"
)

// MinGPUFreeMB is the free memory a CUDA device needs before it is preferred.
const MinGPUFreeMB = 2048

// Capabilities describes which transcription paths are feasible right now.
type Capabilities struct {
	HasGPU              bool   `json:"has_gpu"`
	GPUKind             string `json:"gpu_kind,omitempty"`
	GPUFreeMB           int    `json:"gpu_free_mb,omitempty"`
	HasLocalEngine      bool   `json:"has_local_engine"`
	HasFFmpeg           bool   `json:"has_ffmpeg"`
	HasDiarizationDeps  bool   `json:"has_diarization_deps"`
	HasDiarizationToken bool   `json:"has_diarization_token"`
	HasAPICredentials   bool   `json:"has_api_credentials"`
	AvailableMemory     uint64 `json:"available_memory"`
	CPUCount            int    `json:"cpu_count"`
}

// CanDiarize reports whether a diarization pass can run
func (c Capabilities) CanDiarize() bool {
	return c.HasDiarizationDeps && c.HasDiarizationToken
}

// PreferredDevice resolves a device preference against what is available.
// "auto" picks cuda, then mps, then cpu.
func (c Capabilities) PreferredDevice(pref string) string {
	cudaOK := c.HasGPU && c.GPUKind == "cuda" && c.GPUFreeMB > MinGPUFreeMB
	mpsOK := c.HasGPU && c.GPUKind == "mps"

	switch pref {
	case "cpu":
		return "cpu"
	case "cuda":
		if cudaOK {
			return "cuda"
		}
	case "mps":
		if mpsOK {
			return "mps"
		}
	default:
		if cudaOK {
			return "cuda"
		}
		if mpsOK {
			return "mps"
		}
		if c.HasGPU && c.GPUKind == "cuda" {
			log.Printf("WARNING: insufficient GPU memory (%dMB free), using CPU", c.GPUFreeMB)
		}
		return "cpu"
	}
	log.Printf("WARNING: device %s not available, using CPU", pref)
	return "cpu"
}

// Options names the tools the resolver probes for
type Options struct {
	WhisperCommand string
	DiarizeCommand string
	FFmpeg         string
	Credentials    func() config.Credentials
}

// Resolver probes compute and optional dependencies. It never fails:
// a probe that errors is logged and reported as unavailable.
type Resolver struct {
	opts          Options
	lookPath      func(string) (string, error)
	run           func(ctx context.Context, name string, args ...string) ([]byte, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	cpuCounts     func(logical bool) (int, error)
	goos, goarch  string
}

// NewResolver builds a resolver using real OS probes.
func NewResolver(opts Options) *Resolver {
	if opts.Credentials == nil {
		opts.Credentials = config.EnvCredentials
	}
	return &Resolver{
		opts:     opts,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		virtualMemory: mem.VirtualMemory,
		cpuCounts:     cpu.Counts,
		goos:          runtime.GOOS,
		goarch:        runtime.GOARCH,
	}
}

// Resolve returns the current capabilities. Call it once per job.
func (r *Resolver) Resolve(ctx context.Context) Capabilities {
	var caps Capabilities

	caps.HasLocalEngine = r.hasTool(r.opts.WhisperCommand)
	caps.HasFFmpeg = r.hasTool(r.opts.FFmpeg)
	caps.HasDiarizationDeps = r.hasTool(r.opts.DiarizeCommand)

	creds := r.credentials()
	caps.HasAPICredentials = creds.OpenAIAPIKey != ""
	caps.HasDiarizationToken = creds.HFAuthToken != ""

	r.probeGPU(ctx, &caps)

	if vm, err := r.virtualMemory(); err != nil {
		log.Printf("WARNING: memory probe failed: %v", err)
	} else {
		caps.AvailableMemory = vm.Available
	}
	if n, err := r.cpuCounts(true); err != nil {
		log.Printf("WARNING: cpu probe failed: %v", err)
	} else {
		caps.CPUCount = n
	}

	return caps
}

func (r *Resolver) credentials() (creds config.Credentials) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("WARNING: credential lookup panicked: %v", p)
			creds = config.Credentials{}
		}
	}()
	return r.opts.Credentials()
}

func (r *Resolver) hasTool(name string) bool {
	if name == "" {
		return false
	}
	if _, err := r.lookPath(name); err != nil {
		log.Printf("WARNING: %s not found: %v", name, err)
		return false
	}
	return true
}

func (r *Resolver) probeGPU(ctx context.Context, caps *Capabilities) {
	if r.goos == "darwin" && r.goarch == "arm64" {
		caps.HasGPU = true
		caps.GPUKind = "mps"
		return
	}

	if _, err := r.lookPath("nvidia-smi"); err != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := r.run(probeCtx, "nvidia-smi", "--query-gpu=memory.free", "--format=csv,noheader,nounits")
	if err != nil {
		log.Printf("WARNING: nvidia-smi failed, assuming no GPU: %v", err)
		return
	}

	free, ok := parseFreeMB(string(out))
	if !ok {
		log.Printf("WARNING: unexpected nvidia-smi output %q, assuming no GPU", strings.TrimSpace(string(out)))
		return
	}
	caps.HasGPU = true
	caps.GPUKind = "cuda"
	caps.GPUFreeMB = free
}

// parseFreeMB reads the first GPU line of nvidia-smi csv output
func parseFreeMB(out string) (int, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
