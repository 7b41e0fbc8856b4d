package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformUnknown Platform = "unknown"
)

// ErrUnsupportedPlatform is returned when no default engine location is
// known for the host.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	return platformOf(runtime.GOOS)
}

func platformOf(goos string) Platform {
	switch goos {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// Install describes where the engine is installed on a platform. WorkDir is
// empty when the engine runs from the caller's directory.
type Install struct {
	Root    string
	Binary  string
	WorkDir string
}

// DefaultInstall returns the engine's default install layout for p.
func DefaultInstall(p Platform) (Install, error) {
	switch p {
	case PlatformLinux:
		home, err := os.UserHomeDir()
		if err != nil {
			return Install{}, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return Install{Root: filepath.Join(home, "StarCraftII"), Binary: "SC2_x64"}, nil
	case PlatformWindows:
		root := "C:/Program Files (x86)/StarCraft II"
		return Install{Root: root, Binary: "SC2_x64.exe", WorkDir: root + "/Support64"}, nil
	default:
		return Install{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
}

// MapDir returns the install's map directory.
func (i Install) MapDir() string {
	return filepath.Join(i.Root, "Maps")
}

// Executable finds the engine binary under Versions/Base*/. When several
// versions are installed the newest build wins.
func (i Install) Executable() (string, error) {
	versions, err := filepath.Glob(filepath.Join(i.Root, "Versions", "Base*"))
	if err != nil {
		return "", err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))

	for _, dir := range versions {
		path := filepath.Join(dir, i.Binary)
		if FileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s found under %s", i.Binary, filepath.Join(i.Root, "Versions"))
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	TotalMemory  uint64   `json:"total_memory_mb"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
