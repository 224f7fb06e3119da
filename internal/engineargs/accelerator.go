package engineargs

import (
	"fmt"
	"strings"
)

// AcceleratorKey is the reserved raw key selecting the compute accelerator.
// It is consumed before engine flags are parsed.
const AcceleratorKey = "accelerator"

// Accelerator classes.
const (
	AcceleratorGPU = "GPU"
	AcceleratorCPU = "CPU"
)

// SplitAccelerator removes the accelerator key from raw and returns its
// normalized value (GPU when absent) with a copy of the remaining entries.
// raw itself is not modified.
func SplitAccelerator(raw map[string]any) (string, map[string]any, error) {
	rest := make(map[string]any, len(raw))
	accel := AcceleratorGPU
	for k, v := range raw {
		if normalizeKey(k) != AcceleratorKey {
			rest[k] = v
			continue
		}
		if v == nil {
			continue
		}
		switch s := strings.ToUpper(strings.TrimSpace(fmt.Sprint(v))); s {
		case "", strings.ToUpper(noneString):
		case AcceleratorGPU, AcceleratorCPU:
			accel = s
		default:
			return "", nil, configErr(AcceleratorKey, "unsupported accelerator %q (want GPU or CPU)", v)
		}
	}
	return accel, rest, nil
}
