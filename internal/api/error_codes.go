// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorUnauthorized  = "UNAUTHORIZED"

	// 积分相关错误
	ErrorInsufficientCredits = "INSUFFICIENT_CREDITS"

	// 画板相关错误
	ErrorSceneNotFound     = "SCENE_NOT_FOUND"
	ErrorBoardSizeInvalid  = "BOARD_SIZE_INVALID"
	ErrorBoardRebuilt      = "BOARD_REBUILT"
	ErrorPromptTextInvalid = "PROMPT_TEXT_INVALID"

	// 生成服务相关错误
	ErrorProviderFailed      = "PROVIDER_FAILED"
	ErrorProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrorAPIKeyMissing       = "API_KEY_MISSING"

	// 导出相关错误
	ErrorExportFailed    = "EXPORT_FAILED"
	ErrorExportDataEmpty = "EXPORT_DATA_EMPTY"

	// 登录相关错误
	ErrorLoginModeInvalid  = "LOGIN_MODE_INVALID"
	ErrorCredentialInvalid = "CREDENTIAL_INVALID"
)
