package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	DefaultHealthCheckInterval = 5 * time.Second
	HealthCheckTimeout         = 2 * time.Second
)

// Inference service and its methods. Payloads are google.protobuf.Struct.
const (
	ServiceName = "liveassist.inference.v1.Inference"

	MethodTranscribe   = "/" + ServiceName + "/Transcribe"
	MethodExtract      = "/" + ServiceName + "/ExtractEntities"
	MethodHints        = "/" + ServiceName + "/GenerateHints"
	MethodBattlecard   = "/" + ServiceName + "/GetBattlecard"
	MethodWebInsights  = "/" + ServiceName + "/WebInsights"
	MethodSummarize    = "/" + ServiceName + "/Summarize"
	MethodAnalyzeFaces = "/" + ServiceName + "/AnalyzeFaces"
)
