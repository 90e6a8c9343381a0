package schema

// LoggingLevel follows syslog severity ordering, least to most severe being
// debug < info < notice < warning < error < critical < alert < emergency.
type LoggingLevel string

const (
	LoggingLevelEmergency LoggingLevel = "emergency"
	LoggingLevelAlert     LoggingLevel = "alert"
	LoggingLevelCritical  LoggingLevel = "critical"
	LoggingLevelError     LoggingLevel = "error"
	LoggingLevelWarning   LoggingLevel = "warning"
	LoggingLevelNotice    LoggingLevel = "notice"
	LoggingLevelInfo      LoggingLevel = "info"
	LoggingLevelDebug     LoggingLevel = "debug"
)

var loggingLevelRank = map[LoggingLevel]int{
	LoggingLevelDebug: 0, LoggingLevelInfo: 1, LoggingLevelNotice: 2,
	LoggingLevelWarning: 3, LoggingLevelError: 4, LoggingLevelCritical: 5,
	LoggingLevelAlert: 6, LoggingLevelEmergency: 7,
}

// AtLeast reports whether this level is as severe as or more severe than min.
func (l LoggingLevel) AtLeast(min LoggingLevel) bool {
	return loggingLevelRank[l] >= loggingLevelRank[min]
}

type LoggingMessageNotificationParams struct {
	Data   interface{}  `json:"data"`
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
}

type LoggingMessageNotification struct {
	Method string                           `json:"method"`
	Params LoggingMessageNotificationParams `json:"params"`
}

type SetLevelRequestParams struct {
	Level LoggingLevel `json:"level"`
}

type SetLevelRequest struct {
	Method string                `json:"method"`
	Params SetLevelRequestParams `json:"params"`
}

type ProgressNotificationParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         *float64      `json:"total,omitempty"`
	Message       *string       `json:"message,omitempty"`
}

type ProgressNotification struct {
	Method string                     `json:"method"`
	Params ProgressNotificationParams `json:"params"`
}

type CancelledNotificationParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

type CancelledNotification struct {
	Method string                      `json:"method"`
	Params CancelledNotificationParams `json:"params"`
}
