package detections

import "time"

const (
	DefaultInputSize      = 640
	DefaultNumClasses     = 1
	DefaultConfThreshold  = 0.25
	DefaultIoUThreshold   = 0.7
	DefaultPoolSize       = 1
	DefaultAcquireTimeout = 5 * time.Second
	HealthCheckPeriod     = 60 * time.Second
	MaxDetections         = 300

	DefaultInputName  = "images"
	DefaultOutputName = "output0"

	// YOLOv8 heads run at strides 8, 16 and 32.
	boxChannels = 4
)

var strides = [...]int{8, 16, 32}
