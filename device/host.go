package device

import "github.com/klauspost/cpuid/v2"

// HostInfo describes the CPU the process runs on.
type HostInfo struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
	AVX2          bool
	AVX512        bool
}

// Host probes the CPU.
func Host() HostInfo {
	return HostInfo{
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:        cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}
}

// DefaultWorkers is the number of data loading workers used when none is
// configured: one per physical core, at least one.
func (h HostInfo) DefaultWorkers() int {
	if h.PhysicalCores > 0 {
		return h.PhysicalCores
	}
	if h.LogicalCores > 0 {
		return h.LogicalCores
	}
	return 1
}
