package errs

const (
	ErrCode_OK      = 0
	ErrCode_Unknown = 1

	// rpc调用链上可观测的失败类别
	ErrCode_Transport        = 2
	ErrCode_MalformedFrame   = 3
	ErrCode_UnknownService   = 4
	ErrCode_UnknownMethod    = 5
	ErrCode_Serialization    = 6
	ErrCode_DiscoveryMiss    = 7
	ErrCode_SessionFailure   = 8
	ErrCode_DuplicateService = 9
)

var (
	Unknown          = CreateCodeError(ErrCode_Unknown, "unknown error")
	Transport        = CreateCodeError(ErrCode_Transport, "transport error")
	MalformedFrame   = CreateCodeError(ErrCode_MalformedFrame, "malformed frame")
	UnknownService   = CreateCodeError(ErrCode_UnknownService, "service not found")
	UnknownMethod    = CreateCodeError(ErrCode_UnknownMethod, "method not found")
	Serialization    = CreateCodeError(ErrCode_Serialization, "serialization error")
	DiscoveryMiss    = CreateCodeError(ErrCode_DiscoveryMiss, "discovery miss")
	SessionFailure   = CreateCodeError(ErrCode_SessionFailure, "coordination session failure")
	DuplicateService = CreateCodeError(ErrCode_DuplicateService, "duplicate service")
)
