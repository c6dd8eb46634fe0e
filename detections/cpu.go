package detections

import "golang.org/x/sys/cpu"

// CPUFeatures reports the vector extensions ONNX Runtime can pick kernels for.
func CPUFeatures() map[string]bool {
	return map[string]bool{
		"sse41":  cpu.X86.HasSSE41,
		"avx2":   cpu.X86.HasAVX2,
		"avx512": cpu.X86.HasAVX512,
		"fma":    cpu.X86.HasFMA,
		"neon":   cpu.ARM64.HasASIMD,
	}
}
