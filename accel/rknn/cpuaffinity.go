package rknn

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// CoreType selects a CPU cluster on big.LITTLE Rockchip SoCs
type CoreType int

const (
	FastCores CoreType = iota
	SlowCores
	AllCores
)

// cpuCores lists the CPU core numbers of each cluster per platform
var cpuCores = map[string]map[CoreType][]int{
	"rk3588": {
		FastCores: {4, 5, 6, 7},
		SlowCores: {0, 1, 2, 3},
		AllCores:  {0, 1, 2, 3, 4, 5, 6, 7},
	},
	"rk3582": {
		FastCores: {4, 5},
		SlowCores: {0, 1, 2, 3},
		AllCores:  {0, 1, 2, 3, 4, 5},
	},
	"rk3576": {
		FastCores: {4, 5, 6, 7},
		SlowCores: {0, 1, 2, 3},
		AllCores:  {0, 1, 2, 3, 4, 5, 6, 7},
	},
	"rk3568": {
		FastCores: {0, 1, 2, 3},
		SlowCores: {0, 1, 2, 3},
		AllCores:  {0, 1, 2, 3},
	},
	"rk3566": {
		FastCores: {0, 1, 2, 3},
		SlowCores: {0, 1, 2, 3},
		AllCores:  {0, 1, 2, 3},
	},
	"rk3562": {
		FastCores: {0, 1, 2, 3},
		SlowCores: {0, 1, 2, 3},
		AllCores:  {0, 1, 2, 3},
	},
}

// SetCPUAffinity pins the calling process to the given CPU cores
func SetCPUAffinity(cores []int) error {

	var set unix.CPUSet
	set.Zero()

	for _, c := range cores {
		set.Set(c)
	}

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("failed to set CPU affinity: %w", err)
	}

	return nil
}

// SetCPUAffinityByPlatform pins the process to a CPU cluster of the named
// platform, one of rk3562|rk3566|rk3568|rk3576|rk3582|rk3588
func SetCPUAffinityByPlatform(platform string, ct CoreType) error {

	cores, ok := cpuCores[strings.ToLower(strings.TrimSpace(platform))][ct]

	if !ok {
		return fmt.Errorf("unknown platform: %s", platform)
	}

	return SetCPUAffinity(cores)
}
