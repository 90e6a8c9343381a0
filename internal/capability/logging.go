package capability

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ shared.IServerCapability = (*LoggingCapability)(nil)

// LoggingCapability implements logging/setLevel and the notifications/message
// notification broadcast path: a single process-wide minimum level (rather
// than per-session thresholds, which the protocol leaves to server
// discretion). level is the zap.AtomicLevel the caller built its own process
// logger core from, if it wants a logging/setLevel call to also re-level the
// local process log; passing a standalone AtomicLevel keeps the two
// independent.
type LoggingCapability struct {
	logger   *zap.Logger
	manager  session.ISessionManager
	level    zap.AtomicLevel
	minLevel atomic.Value // schema.LoggingLevel
	enabled  atomic.Bool
}

func NewLoggingCapability(manager session.ISessionManager, level zap.AtomicLevel, logger *zap.Logger) *LoggingCapability {
	lc := &LoggingCapability{logger: logger, manager: manager, level: level}
	lc.minLevel.Store(schema.LoggingLevelInfo)
	return lc
}

func (lc *LoggingCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){
		"logging/setLevel": lc.handleSetLevel,
	}
}

func (lc *LoggingCapability) SetCapabilities(s *schema.ServerCapabilities) {
	lc.enabled.Store(true)
	s.Logging = &struct{}{}
}

func (lc *LoggingCapability) handleSetLevel(msg *shared.Message) (interface{}, error) {
	var params schema.SetLevelRequestParams
	if msg.Params == nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}
	zapLevel, err := zapLevelFor(params.Level)
	if err != nil {
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: err.Error()})
	}
	lc.level.SetLevel(zapLevel)
	lc.minLevel.Store(params.Level)
	lc.logger.Info("logging level changed via logging/setLevel", zap.String("level", string(params.Level)))
	return map[string]interface{}{}, nil
}

// Notify broadcasts a log record to every active session as
// notifications/message, provided the capability is advertised and the
// record clears the currently configured minimum level.
func (lc *LoggingCapability) Notify(level schema.LoggingLevel, loggerName string, data interface{}) {
	if !lc.enabled.Load() {
		return
	}
	if !level.AtLeast(lc.minLevel.Load().(schema.LoggingLevel)) {
		return
	}
	params := schema.LoggingMessageNotificationParams{Level: level, Logger: loggerName, Data: data}
	raw, err := json.Marshal(params)
	if err != nil {
		return
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return
	}
	lc.manager.NotifyEligibleSessions("notifications/message", asMap)
}

func zapLevelFor(level schema.LoggingLevel) (zapcore.Level, error) {
	switch level {
	case schema.LoggingLevelDebug:
		return zap.DebugLevel, nil
	case schema.LoggingLevelInfo, schema.LoggingLevelNotice:
		return zap.InfoLevel, nil
	case schema.LoggingLevelWarning:
		return zap.WarnLevel, nil
	case schema.LoggingLevelError:
		return zap.ErrorLevel, nil
	case schema.LoggingLevelCritical, schema.LoggingLevelAlert, schema.LoggingLevelEmergency:
		return zap.DPanicLevel, nil
	default:
		return 0, fmt.Errorf("unknown logging level: %q", level)
	}
}
